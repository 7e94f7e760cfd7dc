package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
)

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage stored machine references",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List machine references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(m *orchestrator.Manager) error {
				models, err := m.ListModels(cmd.Context())
				if err != nil {
					return err
				}
				if a.jsonOut {
					return printJSON(cmd.OutOrStdout(), models)
				}
				if len(models) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), styles.Dim.Render("no references"))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderModelTable(models))
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a machine reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *orchestrator.Manager) error {
				rec, err := m.Model(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				summary := rec.Summary()
				if a.jsonOut {
					return printJSON(cmd.OutOrStdout(), summary)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderModel(summary))
				return nil
			})
		},
	}

	history := &cobra.Command{
		Use:   "history ID",
		Short: "List archived references of a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *orchestrator.Manager) error {
				models, err := m.ModelHistory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if a.jsonOut {
					return printJSON(cmd.OutOrStdout(), models)
				}
				if len(models) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), styles.Dim.Render("no archived references"))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderModelTable(models))
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a machine reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *orchestrator.Manager) error {
				if err := m.DeleteModel(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, history, del)
	return cmd
}
