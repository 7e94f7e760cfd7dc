package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/audio"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
)

func newTrainCmd(a *app) *cobra.Command {
	var (
		machineID string
		rate      int
	)
	cmd := &cobra.Command{
		Use:   "train --machine ID file.wav...",
		Short: "Train a machine reference",
		Long: `Train a machine reference from one or more WAV recordings of the
machine running normally. Recordings are downmixed to mono and joined.
Recordings at different sample rates need --rate to resample them.

Training replaces the current reference; the previous one is archived.

Examples:
  machinectl train --machine pump-1 pump-normal.wav
  machinectl train --machine fan-2 --rate 48000 a.wav b.wav`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, sampleRate, err := loadRecordings(args, rate)
			if err != nil {
				return err
			}
			return a.withManager(cmd.Context(), func(m *orchestrator.Manager) error {
				summary, err := m.TrainFromSamples(cmd.Context(), machineID, samples, sampleRate)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return printJSON(cmd.OutOrStdout(), summary)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderModel(*summary))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&machineID, "machine", "m", "", "machine ID")
	cmd.Flags().IntVar(&rate, "rate", 0, "resample every recording to this rate")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

// loadRecordings decodes and joins WAV files. With rate > 0 each file is
// resampled; otherwise all files must share one rate.
func loadRecordings(paths []string, rate int) ([]float32, int, error) {
	var (
		all        []float32
		sampleRate = rate
	)
	for _, path := range paths {
		samples, fileRate, err := readRecording(path, rate)
		if err != nil {
			return nil, 0, err
		}
		if sampleRate == 0 {
			sampleRate = fileRate
		} else if fileRate != sampleRate {
			return nil, 0, fmt.Errorf("%s is %d Hz, earlier recordings are %d Hz; use --rate", path, fileRate, sampleRate)
		}
		all = append(all, samples...)
	}
	return all, sampleRate, nil
}

func readRecording(path string, rate int) ([]float32, int, error) {
	if rate <= 0 {
		samples, fileRate, err := audio.ReadWAV(path)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", path, err)
		}
		return samples, fileRate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	samples, err := audio.ResampleWAV(data, rate)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return samples, rate, nil
}
