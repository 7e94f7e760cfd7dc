package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
)

func newDiagnoseCmd(a *app) *cobra.Command {
	var (
		machineID string
		resample  bool
		failBelow float64
	)
	cmd := &cobra.Command{
		Use:   "diagnose --machine ID file.wav",
		Short: "Score a recording against a machine reference",
		Long: `Score a WAV recording window by window against the stored reference
of a machine. Scores run from 0 (unlike the reference) to 100.

The recording must be at the reference's sample rate; --resample
converts it first.

Examples:
  machinectl diagnose --machine pump-1 today.wav
  machinectl diagnose --machine pump-1 --resample --fail-below 60 phone.wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *orchestrator.Manager) error {
				rate := 0
				if resample {
					rec, err := m.Model(cmd.Context(), machineID)
					if err != nil {
						return err
					}
					rate = rec.Model.SampleRate
				}
				samples, sampleRate, err := readRecording(args[0], rate)
				if err != nil {
					return err
				}
				d, err := m.DiagnoseSamples(cmd.Context(), machineID, samples, sampleRate)
				if err != nil {
					return err
				}

				if a.jsonOut {
					if err := printJSON(cmd.OutOrStdout(), d); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), renderDiagnosis(d, a.cfg.AlertThreshold, a.verbose))
				}
				if failBelow > 0 && d.MeanScore < failBelow {
					return fmt.Errorf("mean score %.1f below %.1f", d.MeanScore, failBelow)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&machineID, "machine", "m", "", "machine ID")
	cmd.Flags().BoolVar(&resample, "resample", false, "resample the recording to the reference's rate")
	cmd.Flags().Float64Var(&failBelow, "fail-below", 0, "exit non-zero when the mean score is below this")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}
