package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/born-ml/deform/internal/config"
	"github.com/born-ml/deform/internal/serialization"
	"github.com/born-ml/deform/internal/tensor"
	"github.com/born-ml/deform/internal/transform"
)

// Tensor names written by eval.
const (
	dispKey   = "disp"
	matrixKey = "matrix"
)

type evalOptions struct {
	config  string
	output  string
	dtype   string
	inverse bool
	link    bool
	matrix  bool
}

func newEvalCommand() *cobra.Command {
	var opts evalOptions
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a transform chain and write its displacement field",
		Long: `Build the grid and transforms described by a TOML file, update them and
write the displacement field on the grid to a SafeTensors file. Linear chains
additionally store their homogeneous matrix.`,
		Example: `  deform eval -c chain.toml -o disp.safetensors
  deform eval -c chain.toml -o inverse.safetensors --inverse --link`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.config, "config", "c", "", "transform chain configuration (TOML)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "disp.safetensors", "output file")
	cmd.Flags().StringVar(&opts.dtype, "dtype", "F64", "element type of written tensors (F32, F64)")
	cmd.Flags().BoolVar(&opts.inverse, "inverse", false, "evaluate the inverse of the chain")
	cmd.Flags().BoolVar(&opts.link, "link", false, "let the inverse read the parameters of the forward chain")
	cmd.Flags().BoolVar(&opts.matrix, "matrix", false, "only write the matrix (requires a linear chain)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runEval(cmd *cobra.Command, opts evalOptions) error {
	logger := loggerFromContext(cmd.Context())
	runID := uuid.NewString()
	logger = logger.With("run", runID[:8])

	dtype, err := serialization.ParseDType(opts.dtype)
	if err != nil {
		return err
	}
	if opts.link && !opts.inverse {
		return errors.New("--link requires --inverse")
	}

	cfg, err := config.Load(opts.config)
	if err != nil {
		return err
	}
	chain, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("%s: %w", opts.config, err)
	}
	logger.Debug("built chain", "grid", chain.Grid, "composition", chain.Composition, "transforms", len(cfg.Transforms))

	p := newProgress(logger)
	if err := chain.Transform.Update(); err != nil {
		return err
	}
	p.done("updated transforms")

	t := chain.Transform
	if opts.inverse {
		t, err = t.Inverse(transform.InverseOptions{Link: opts.link, UpdateBuffers: true})
		if err != nil {
			return err
		}
		logger.Debug("inverted chain", "link", opts.link)
	}

	tensors := make(map[string]*tensor.Tensor, 2)
	if t.IsLinear() {
		m, err := t.Matrix()
		if err != nil {
			return err
		}
		tensors[matrixKey] = m
	} else if opts.matrix {
		return fmt.Errorf("--matrix: %w", transform.ErrNotLinear)
	}
	if !opts.matrix {
		p = newProgress(logger)
		u, err := t.Disp(nil)
		if err != nil {
			return err
		}
		tensors[dispKey] = u
		p.done("evaluated displacement", "shape", u.Shape(), "max", u.MaxAbs())
	}

	size := make([]string, chain.Grid.NDim())
	for i, n := range chain.Grid.Size() {
		size[i] = strconv.Itoa(n)
	}
	metadata := map[string]string{
		"run_id":      runID,
		"composition": chain.Composition,
		"linear":      strconv.FormatBool(t.IsLinear()),
		"inverse":     strconv.FormatBool(opts.inverse),
		"grid_size":   strings.Join(size, "x"),
	}
	if err := serialization.WriteSafeTensors(opts.output, tensors, metadata, dtype); err != nil {
		return fmt.Errorf("write %s: %w", opts.output, err)
	}
	logger.Info("wrote output", "path", opts.output, "tensors", len(tensors))
	return nil
}
