package control

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"callsense/internal/config"

	"github.com/spf13/cobra"
)

const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// known ggml models; multilingual only since calls are Mandarin.
var modelRegistry = []string{
	"ggml-small-q5_1.bin",
	"ggml-medium-q5_1.bin",
	"ggml-large-v3-q5_0.bin",
	"ggml-large-v3-turbo-q8_0.bin",
	"ggml-large-v3-turbo.bin",
}

func knownModel(name string) bool {
	for _, n := range modelRegistry {
		if n == name {
			return true
		}
	}
	return false
}

func modelDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "models")
}

// NewModelsCmd wires up the models subcommands (list/download/set).
func NewModelsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List/download/set whisper models",
	}
	cmd.AddCommand(newModelsListCmd(cfgPath))
	cmd.AddCommand(newModelsDownloadCmd(cfgPath))
	cmd.AddCommand(newModelsSetCmd(cfgPath))
	return cmd
}

func newModelsListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known models and those present locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			local := map[string]bool{}
			entries, _ := os.ReadDir(modelDir(cfg))
			for _, e := range entries {
				if !e.IsDir() {
					local[e.Name()] = true
				}
			}
			names := append([]string(nil), modelRegistry...)
			sort.Strings(names)
			current := filepath.Base(cfg.ASR.ModelPath)
			for _, n := range names {
				var tags []string
				if local[n] {
					tags = append(tags, "downloaded")
				}
				if n == current {
					tags = append(tags, "configured")
				}
				line := "- " + n
				if len(tags) > 0 {
					line += " (" + strings.Join(tags, ", ") + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newModelsDownloadCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "download <model>",
		Short: "Download a model from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !knownModel(name) {
				return fmt.Errorf("unknown model %q; run models list", name)
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			dest := filepath.Join(modelDir(cfg), name)
			fmt.Fprintf(cmd.OutOrStdout(), "downloading %s -> %s\n", name, dest)
			return download(cmd.Context(), modelBaseURL+name, dest)
		},
	}
}

// download fetches url into dest via a .part file so an interrupted transfer
// never leaves a truncated model behind.
func download(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

func newModelsSetCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <model-name-or-path>",
		Short: "Set asr.model_path in config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			val := args[0]
			// short names resolve inside the state dir
			if !strings.Contains(val, "/") {
				val = filepath.Join(modelDir(cfg), val)
			}
			cfg.ASR.ModelPath = val
			if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model set to %s\n", val)
			return nil
		},
	}
}
