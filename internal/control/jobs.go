package control

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"callsense/internal/model"

	"github.com/spf13/cobra"
)

// NewJobsCmd manages the job queue in the database.
func NewJobsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Add, list, inspect, reset and export jobs",
	}
	cmd.AddCommand(newJobsAddCmd(cfgPath))
	cmd.AddCommand(newJobsListCmd(cfgPath))
	cmd.AddCommand(newJobsShowCmd(cfgPath))
	cmd.AddCommand(newJobsResetCmd(cfgPath))
	cmd.AddCommand(newJobsExportCmd(cfgPath))
	return cmd
}

// newJob builds a pending job for path. Text files carry their content so the
// worker never needs the original file.
func newJob(path string) (model.Job, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return model.Job{}, err
	}
	if _, err := os.Stat(abs); err != nil {
		return model.Job{}, err
	}
	job := model.Job{FilePath: abs, Format: model.FormatOf(abs)}
	if !model.SupportedFormat(job.Format) {
		return model.Job{}, fmt.Errorf("%s: unsupported format %q (want one of %s)", path, job.Format, strings.Join(model.Formats, ", "))
	}
	if job.IsText() {
		data, err := os.ReadFile(abs)
		if err != nil {
			return model.Job{}, err
		}
		job.Transcript = strings.TrimSpace(string(data))
		if job.Transcript == "" {
			return model.Job{}, fmt.Errorf("%s: empty transcript", path)
		}
	}
	return job, nil
}

func newJobsAddCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Queue audio or transcript files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			for _, path := range args {
				job, err := newJob(path)
				if err != nil {
					return err
				}
				job, err = st.CreateJob(cmd.Context(), job)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", job.ID, job.FilePath)
			}
			return nil
		},
	}
}

func newJobsListCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("status")
			status := model.Status(strings.ToUpper(raw))
			if status != "" && !status.Valid() {
				return fmt.Errorf("unknown status %q", raw)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			jobs, err := st.ListJobs(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				printJobLine(cmd.OutOrStdout(), j)
			}
			return nil
		},
	}
	cmd.Flags().String("status", "", "filter by status (PENDING, ANALYZING, COMPLETED, FAILED)")
	cmd.Flags().Int("limit", 50, "maximum rows")
	return cmd
}

func printJobLine(w io.Writer, j model.Job) {
	line := fmt.Sprintf("%s  %-9s %-4s %s  %s", j.ID, j.Status, j.Format, j.UpdatedAt.Format("2006-01-02 15:04"), filepath.Base(j.FilePath))
	if j.Error != "" {
		line += "  (" + j.Error + ")"
	}
	fmt.Fprintln(w, line)
}

func newJobsShowCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			job, err := st.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:       %s\nfile:     %s\nstatus:   %s\n", job.ID, job.FilePath, job.Status)
			if job.Error != "" {
				fmt.Fprintf(out, "error:    %s\n", job.Error)
			}
			has, err := st.HasAnalysis(cmd.Context(), job.ID)
			if err != nil || !has {
				return err
			}
			an, err := st.GetAnalysis(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "products: %s\nsentiment: %s\ncategory: %s\nsummary:  %s\nsource:   %s\n",
				strings.Join(an.ProductNames, "、"), an.Sentiment, an.Category, an.Summary, an.Source)
			if an.Detail != "" {
				fmt.Fprintf(out, "detail:\n%s\n", an.Detail)
			}
			return nil
		},
	}
}

func newJobsResetCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <job-id>",
		Short: "Return a failed job to PENDING",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.ResetJob(cmd.Context(), args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reset to %s\n", args[0], model.StatusPending)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "also reset jobs stuck in ANALYZING")
	return cmd
}

func newJobsExportCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export <out.xlsx>",
		Short: "Write every analysis to a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			data, n, err := st.ExportXLSX(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d analyses to %s\n", n, args[0])
			return nil
		},
	}
}
