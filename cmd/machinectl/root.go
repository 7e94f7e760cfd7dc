package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/config"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
)

// app carries the persistent flags and the loaded configuration.
type app struct {
	configPath string
	dataDir    string
	jsonOut    bool
	verbose    bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "machinectl",
		Short:         "Offline machine reference training and diagnosis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "store directory (overrides DATA_DIR)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON instead of tables")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newTrainCmd(a),
		newDiagnoseCmd(a),
		newModelsCmd(a),
		newHealthCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	if err := config.LoadEnvFile(".env"); err != nil {
		return err
	}
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
		cfg.StoreInMemory = false
	}
	a.cfg = cfg

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

// withManager runs fn with a manager over the configured store. Pending
// records are flushed before the store closes.
func (a *app) withManager(ctx context.Context, fn func(*orchestrator.Manager) error) error {
	kv, err := store.Open(a.cfg.DataDir, a.cfg.StoreInMemory)
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	m := orchestrator.New(a.cfg, orchestrator.Deps{
		Models:  store.NewModels(kv),
		Records: store.NewRecords(kv),
	})
	m.SetAlerting(false)
	defer m.Close()
	return fn(m)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
