package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"callsense/internal/config"
	"callsense/internal/control"
	"callsense/internal/daemon"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config.LoadDotEnv()

	root := &cobra.Command{
		Use:   "callsense",
		Short: "callsense: customer call transcription and analysis worker",
		Long: `callsense turns recorded customer calls into structured feedback. Audio is
transcribed in 30 second windows with whisper.cpp, the transcript is classified
by a local LLM (product, sentiment, category, summary) and the result is stored
in SQLite, one analysis per job.

Only one job is processed at a time; a second request while one is running is
rejected as busy, and requests are refused while the host is short on memory,
CPU or disk.`,
		Example: `  callsense setup
  callsense labels import labels.xlsx
  callsense jobs add calls/0412.wav calls/0413.txt
  callsense start --addr 127.0.0.1:8088
  callsense process <job-id>
  callsense process --local <job-id>
  callsense jobs export report.xlsx
  callsense service install --env CALLSENSE_LLM_URL=http://gpu:11434/api/generate`,
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
	}

	root.Version = version
	root.SetVersionTemplate("callsense v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/callsense/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(daemon.NewStartCmd(cfgPath))
	root.AddCommand(daemon.NewStopCmd(cfgPath))
	root.AddCommand(daemon.NewRestartCmd(cfgPath))
	root.AddCommand(control.NewStatusCmd(cfgPath))
	root.AddCommand(control.NewHealthCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewSetupCmd(cfgPath))
	root.AddCommand(control.NewModelsCmd(cfgPath))
	root.AddCommand(control.NewServiceCmd(cfgPath))
	root.AddCommand(control.NewJobsCmd(cfgPath))
	root.AddCommand(control.NewLabelsCmd(cfgPath))
	root.AddCommand(control.NewProcessCmd(cfgPath))
	root.AddCommand(control.NewTranscribeCmd(cfgPath))
	root.AddCommand(control.NewAnalyzeCmd(cfgPath))

	// Hidden internal serve command used by start and the systemd unit.
	root.AddCommand(daemon.NewServeCmd(cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}
