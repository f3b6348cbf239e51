package control

import (
	"fmt"
	"os"
	"path/filepath"

	"callsense/internal/config"

	"github.com/spf13/cobra"
)

// NewSetupCmd prepares state dirs, the database and the default model.
func NewSetupCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the database and download the whisper model if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			_ = st.Close()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "database ready at", cfg.Store.DBPath)

			if cfg.ASR.Backend == config.BackendCommand {
				fmt.Fprintln(out, "asr backend is command; no model needed")
				return nil
			}
			modelPath := os.ExpandEnv(cfg.ASR.ModelPath)
			if _, err := os.Stat(modelPath); err == nil {
				fmt.Fprintln(out, "model already present at", modelPath)
				return nil
			}
			name := filepath.Base(modelPath)
			if !knownModel(name) {
				return fmt.Errorf("model %s missing and not in the registry; download it manually", modelPath)
			}
			fmt.Fprintf(out, "downloading model to %s\n", modelPath)
			if err := download(cmd.Context(), modelBaseURL+name, modelPath); err != nil {
				return err
			}
			fmt.Fprintln(out, "model download complete")
			return nil
		},
	}
}
