package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/grpcserver"
)

func newHealthCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a running server",
		Long: `Query the gRPC health service of a running server, both for the
server as a whole and for live capture.

Examples:
  machinectl health
  machinectl health --addr monitor.local:50051`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.GRPCAddr
			}
			if strings.HasPrefix(addr, ":") {
				addr = "localhost" + addr
			}
			c, err := grpcserver.Dial(addr)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			rows := make([][2]string, 0, 2)
			for _, svc := range []string{"", grpcserver.CaptureService} {
				st, err := c.Check(cmd.Context(), svc)
				if err != nil {
					return fmt.Errorf("check %q: %w", svc, err)
				}
				name := svc
				if name == "" {
					name = "server"
				}
				rows = append(rows, [2]string{name, st.String()})
			}
			if a.jsonOut {
				out := make(map[string]string, len(rows))
				for _, r := range rows {
					out[r[0]] = r[1]
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHealth(addr, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "server gRPC address (defaults to GRPC_ADDR)")
	return cmd
}
