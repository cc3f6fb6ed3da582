package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/deform/internal/serialization"
	"github.com/born-ml/deform/internal/tensor"
)

// summary holds statistics of the elements of a tensor.
type summary struct {
	Min, Max, Mean, Std float64
}

func summarize(t *tensor.Tensor) summary {
	data := t.Data()
	if len(data) == 0 {
		return summary{}
	}
	mean, std := stat.MeanStdDev(data, nil)
	if len(data) == 1 {
		std = 0
	}
	return summary{Min: floats.Min(data), Max: floats.Max(data), Mean: mean, Std: std}
}

func newInspectCommand() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Summarize the tensors of a SafeTensors file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verify {
				if err := serialization.VerifySafeTensors(args[0]); err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: checksum ok\n", args[0])
				return err
			}
			f, err := serialization.ReadSafeTensors(args[0])
			if err != nil {
				return err
			}
			loggerFromContext(cmd.Context()).Debug("read file", "path", args[0], "tensors", len(f.Tensors))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			keys := make([]string, 0, len(f.Metadata))
			for k := range f.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "%s:\t%s\n", k, f.Metadata[k])
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "NAME\tDTYPE\tSHAPE\tMIN\tMAX\tMEAN\tSTD")
			for _, name := range f.Names() {
				t := f.Tensors[name]
				s := summarize(t)
				fmt.Fprintf(w, "%s\t%s\t%v\t%.6g\t%.6g\t%.6g\t%.6g\n",
					name, f.DTypes[name], []int(t.Shape()), s.Min, s.Max, s.Mean, s.Std)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "only check the stored checksum, without decoding tensors")
	return cmd
}
