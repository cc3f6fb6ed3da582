// Package cli implements the deform command-line interface.
//
// # Commands
//
//   - eval: build a transform chain from a TOML file and write its displacement field
//   - kernel: print the cubic B-spline kernel for a control point stride
//   - inspect: summarize the tensors of a SafeTensors file
//   - version: print build information
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging and
// --log-level to pick a level explicitly. Loggers are passed through
// context.Context.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	version = "v0.1.0-dev" // semantic version
	commit  = "unknown"    // git commit SHA
	date    = "unknown"    // build timestamp
)

// SetVersion sets the version information, typically injected via ldflags.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

func versionString() string {
	return fmt.Sprintf("deform %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
}

// NewRootCommand creates the root command with all subcommands registered.
// Command output goes to out, logs to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	var (
		verbose  bool
		logLevel string
	)

	root := &cobra.Command{
		Use:           "deform",
		Short:         "deform evaluates B-spline free-form deformations",
		Long:          `deform builds chains of linear and B-spline transforms, evaluates their displacement fields and stores them in SafeTensors files.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := charmlog.ParseLevel(strings.ToLower(logLevel))
			if err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
			}
			if verbose {
				level = charmlog.DebugLevel
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(withLogger(ctx, newLogger(errOut, level)))
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetVersionTemplate(versionString())

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newEvalCommand())
	root.AddCommand(newKernelCommand())
	root.AddCommand(newInspectCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the deform CLI with the given arguments.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	root := NewRootCommand(out, errOut)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), versionString())
			return err
		},
	}
}
