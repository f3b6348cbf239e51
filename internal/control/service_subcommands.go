package control

import (
	"fmt"
	"os"
	"strings"

	"callsense/internal/config"
	"callsense/internal/service"

	"github.com/spf13/cobra"
)

// NewServiceCmd manages the systemd user unit.
func NewServiceCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd user service",
	}
	cmd.AddCommand(newServiceInstallCmd(cfgPath))
	cmd.AddCommand(newServiceUninstallCmd())
	cmd.AddCommand(newServiceStatusCmd())
	return cmd
}

func newServiceInstallCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write a systemd user unit for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			envPairs, _ := cmd.Flags().GetStringArray("env")
			env := make(map[string]string)
			for _, p := range envPairs {
				k, v, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("bad env %q, want KEY=VAL", p)
				}
				env[k] = v
			}
			path, err := service.WriteUnit(service.UnitParams{
				Name:   service.DefaultName,
				Binary: exe,
				Config: cfg.Paths.ConfigPath,
				Env:    env,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "unit written: %s\n", path)
			fmt.Fprintln(out, "Load:   systemctl --user daemon-reload")
			fmt.Fprintf(out, "Start:  systemctl --user enable --now %s\n", service.DefaultName)
			fmt.Fprintf(out, "Stop:   systemctl --user stop %s\n", service.DefaultName)
			return nil
		},
	}
	cmd.Flags().StringArray("env", nil, "Env to set in the unit (KEY=VAL)")
	return cmd
}

func newServiceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the systemd user unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := service.UnitPath(service.DefaultName)
			_ = os.Remove(path)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s (if present); run: systemctl --user daemon-reload\n", path)
			return nil
		},
	}
}

func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the unit path and whether it exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, ok := service.Status(service.DefaultName)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "unit: %s\n", path)
			if ok {
				fmt.Fprintf(out, "status: present (start with: systemctl --user enable --now %s)\n", service.DefaultName)
			} else {
				fmt.Fprintln(out, "status: missing (install via: callsense service install)")
			}
			return nil
		},
	}
}
