package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"callsense/internal/analyzer"
	"callsense/internal/bootstrap"
	"callsense/internal/config"
	"callsense/internal/logging"
	"callsense/internal/store"

	"github.com/spf13/cobra"
)

// NewProcessCmd runs the pipeline for one job, through the daemon when it is
// up, otherwise in-process with --local.
func NewProcessCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <job-id>",
		Short: "Transcribe and analyze one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			local, _ := cmd.Flags().GetBool("local")
			if !local {
				var resp ProcessResponse
				if err := call(cfg.Paths.SocketPath, Request{Op: "process", JobID: args[0]}, &resp, 0); err != nil {
					return fmt.Errorf("%w (use --local to run without the daemon)", err)
				}
				return reportProcess(cmd, resp)
			}

			logger := logging.Console(cfg.Logging.Level)
			app, err := bootstrap.New(cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.Orchestrator.Process(cmd.Context(), args[0])
			resp := ProcessResponse{Success: err == nil, AnalysisID: out.AnalysisID}
			if err != nil {
				resp.Error = err.Error()
			}
			return reportProcess(cmd, resp)
		},
	}
	cmd.Flags().Bool("local", false, "run in this process instead of the daemon")
	return cmd
}

func reportProcess(cmd *cobra.Command, resp ProcessResponse) error {
	if !resp.Success {
		return errors.New(resp.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "analysis %s saved\n", resp.AnalysisID)
	return nil
}

// NewTranscribeCmd transcribes a file without touching the database.
func NewTranscribeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <audio>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger := logging.Console(cfg.Logging.Level)
			engine, closeFn, err := bootstrap.NewEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			res := engine.Transcribe(cmd.Context(), args[0])
			if res.Error != "" {
				return errors.New(res.Error)
			}
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			if segs, _ := cmd.Flags().GetBool("segments"); segs {
				for _, s := range res.Segments {
					fmt.Fprintf(out, "[%7.2f - %7.2f] %s\n", s.Start, s.End, s.Text)
				}
				return nil
			}
			fmt.Fprintln(out, res.Text)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output the full result as JSON")
	cmd.Flags().Bool("segments", false, "print timed segments")
	return cmd
}

// NewAnalyzeCmd classifies a transcript file and prints the structured result.
func NewAnalyzeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <transcript.txt>",
		Short: "Analyze a transcript without saving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger := logging.Console(cfg.Logging.Level)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			products, categories := readLabels(cmd, cfg)
			an, err := analyzer.New(cfg, logger)
			if err != nil {
				return err
			}
			res := an.Analyze(cmd.Context(), strings.TrimSpace(string(data)), products, categories)
			if res.Failed() {
				return fmt.Errorf("analysis failed: %s", res.Err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(struct {
				analyzer.Analysis
				Source analyzer.Source `json:"source"`
			}{*res.Analysis, res.Source})
		},
	}
	cmd.Flags().Bool("no-labels", false, "do not offer stored labels to the model")
	return cmd
}

// readLabels returns the stored candidates; a missing or broken database just
// means no candidates.
func readLabels(cmd *cobra.Command, cfg *config.Config) (string, string) {
	if skip, _ := cmd.Flags().GetBool("no-labels"); skip {
		return "", ""
	}
	if _, err := os.Stat(cfg.Store.DBPath); err != nil {
		return "", ""
	}
	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return "", ""
	}
	defer st.Close()
	products, _ := st.ProductLabels(cmd.Context())
	categories, _ := st.CategoryLabels(cmd.Context())
	return products, categories
}
