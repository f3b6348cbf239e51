package control

import (
	"fmt"

	"callsense/internal/store"

	"github.com/spf13/cobra"
)

// NewLabelsCmd manages product and category candidates.
func NewLabelsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Manage product and category candidates",
	}
	cmd.AddCommand(newLabelsAddCmd(cfgPath))
	cmd.AddCommand(newLabelsListCmd(cfgPath))
	cmd.AddCommand(newLabelsImportCmd(cfgPath))
	cmd.AddCommand(newLabelsToggleCmd(cfgPath, "disable", false))
	cmd.AddCommand(newLabelsToggleCmd(cfgPath, "enable", true))
	return cmd
}

func newLabelsAddCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <product|category> <name>...",
		Short: "Add candidates",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := store.ParseKind(args[0])
			if err != nil {
				return err
			}
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			for _, name := range args[1:] {
				created, err := st.AddLabel(cmd.Context(), kind, name)
				if err != nil {
					return err
				}
				verb := "added"
				if !created {
					verb = "exists"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-7s %s %s\n", verb, kind, name)
			}
			return nil
		},
	}
}

func newLabelsListCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <product|category>",
		Short: "List candidates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := store.ParseKind(args[0])
			if err != nil {
				return err
			}
			all, _ := cmd.Flags().GetBool("all")
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			labels, err := st.ListLabels(cmd.Context(), kind, !all)
			if err != nil {
				return err
			}
			for _, l := range labels {
				mark := ""
				if !l.Active {
					mark = " (disabled)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", l.Name, mark)
			}
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "include disabled candidates")
	return cmd
}

func newLabelsImportCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <labels.xlsx>",
		Short: "Import candidates from a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			counts, err := st.ImportXLSX(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "products: %d  categories: %d  skipped: %d\n",
				counts.Products, counts.Categories, counts.Skipped)
			return nil
		},
	}
}

func newLabelsToggleCmd(cfgPath *string, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <product|category> <name>",
		Short: use + " a candidate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := store.ParseKind(args[0])
			if err != nil {
				return err
			}
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SetLabelActive(cmd.Context(), kind, args[1], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd %s %s\n", use, kind, args[1])
			return nil
		},
	}
}
