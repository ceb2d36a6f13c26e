package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/leakscope/internal/api"
	"github.com/miradorstack/leakscope/internal/models"
	"github.com/miradorstack/leakscope/internal/repo"
)

func newScanCommand(configPath *string) *cobra.Command {
	var (
		req     models.ScanRequest
		csvPath string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a repository's commit history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.service.Scan(cmd.Context(), req)
			if err != nil {
				return err
			}
			if csvPath != "" {
				return withOutput(csvPath, cmd.OutOrStdout(), func(w io.Writer) error {
					return repo.WriteCSV(w, repo.ExportRows(result))
				})
			}
			return printJSON(cmd.OutOrStdout(), result.Summary)
		},
	}
	cmd.Flags().StringVar(&req.Owner, "owner", "", "Repository owner")
	cmd.Flags().StringVar(&req.Name, "name", "", "Repository name")
	cmd.Flags().StringVar(&req.Branch, "branch", "", "Branch to scan (defaults to the repository default branch)")
	cmd.Flags().IntVar(&req.MaxCommits, "max-commits", 0, "Maximum commits to scan (0 uses the configured default)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write per-credential rows as CSV to this path (- for stdout)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTrainCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the risk model from stored feature vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.service.Train(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.TrainReply{
				Model:        api.ModelInfoFrom(report.Model, false),
				TrainSamples: report.TrainSamples,
				TestSamples:  report.TestSamples,
				Unlabelled:   report.Unlabelled,
			})
		},
	}
}

func newModelCommand(configPath *string) *cobra.Command {
	var rules bool
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Describe the persisted model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			model, err := a.service.Model()
			if err != nil {
				return err
			}
			if rules {
				_, err := fmt.Fprint(cmd.OutOrStdout(), model.Rules())
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.ModelInfoFrom(model, false))
		},
	}
	cmd.Flags().BoolVar(&rules, "rules", false, "Print the decision rules instead of the model summary")
	return cmd
}

func newExportCommand(configPath *string) *cobra.Command {
	var (
		scanID string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored scan as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.store.ScanResult(cmd.Context(), scanID)
			if err != nil {
				return fmt.Errorf("load scan %s: %w", scanID, err)
			}
			return withOutput(out, cmd.OutOrStdout(), func(w io.Writer) error {
				return repo.WriteCSV(w, repo.ExportRows(result))
			})
		},
	}
	cmd.Flags().StringVar(&scanID, "scan-id", "", "Scan to export")
	cmd.Flags().StringVar(&out, "out", "-", "Output path (- for stdout)")
	_ = cmd.MarkFlagRequired("scan-id")
	return cmd
}

func newFeedbackCommand(configPath *string) *cobra.Command {
	var fb models.Feedback
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record an analyst verdict for a commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			fb.SubmittedAt = time.Now().UTC()
			if err := a.service.Feedback(cmd.Context(), fb); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.FeedbackAck{CommitSHA: fb.CommitSHA, Accepted: true})
		},
	}
	cmd.Flags().StringVar(&fb.CommitSHA, "sha", "", "Commit SHA")
	cmd.Flags().BoolVar(&fb.Risky, "risky", false, "Mark the commit as leaking a credential")
	cmd.Flags().StringVar(&fb.Notes, "notes", "", "Free-form notes")
	_ = cmd.MarkFlagRequired("sha")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withOutput runs write against stdout for "-" or against a created file otherwise.
func withOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
