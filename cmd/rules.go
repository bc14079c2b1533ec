package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/veridoc/kyc-engine/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the country rule catalog",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supported countries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tDOCUMENTS\tFIELDS")
		for _, code := range catalog.SupportedCountries() {
			rs, err := catalog.ForCountry(code)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", rs.Code, rs.Name, len(rs.Documents), len(rs.Fields))
		}
		return w.Flush()
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <country>",
	Short: "Show the full rule set for a country",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return err
		}
		rs, err := catalog.ForCountry(args[0])
		if err != nil {
			return err
		}
		return printJSON(rs)
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a catalog file (or the embedded catalog)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var catalog *rules.Catalog
		var err error
		if len(args) == 1 {
			catalog, err = rules.LoadFile(args[0])
		} else {
			catalog, err = rules.Load()
		}
		if err != nil {
			return err
		}
		fmt.Printf("catalog version %d: %d countries OK\n", catalog.Version, len(catalog.Countries))
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesShowCmd, rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}
