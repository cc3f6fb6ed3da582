package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/deform/internal/kernels"
)

func newKernelCommand() *cobra.Command {
	var stride int
	cmd := &cobra.Command{
		Use:   "kernel",
		Short: "Print the cubic B-spline kernel for a control point stride",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := kernels.Register(stride)
			if err != nil {
				return err
			}
			loggerFromContext(cmd.Context()).Debug("kernel", "stride", k.Stride(), "length", k.Len(), "radius", k.Radius())

			w := cmd.OutOrStdout()
			for i := 0; i < k.Len(); i++ {
				if _, err := fmt.Fprintf(w, "%3d  %.10f\n", i-k.Radius(), k.At(i)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&stride, "stride", "s", 5, "control point spacing in grid points")
	return cmd
}
