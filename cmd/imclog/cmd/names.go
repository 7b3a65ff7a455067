package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/LSTS/neptus-sub053/pkg/resolver"
)

var namesCmd = &cobra.Command{
	Use:   "names <log>...",
	Short: "List the system names announced in logs",
	Long: `Index the given logs and list every system id with the name it announced.
Names configured under "systems" in the config file are listed too.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			ix, err := openIndex(path)
			if err != nil {
				return err
			}
			ix.Close()
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return runNames(cmd.OutOrStdout(), container.Resolver(), asJSON)
	},
}

func init() {
	namesCmd.Flags().Bool("json", false, "print the table as JSON")
}

func runNames(w io.Writer, names *resolver.Resolver, asJSON bool) error {
	systems := names.Systems()
	if asJSON {
		return printJSON(w, systems)
	}
	t := newTable("ID", "HEX", "NAME")
	for _, s := range systems {
		t.Row(fmt.Sprint(s.ID), fmt.Sprintf("0x%04X", s.ID), s.Name)
	}
	fmt.Fprintln(w, t.Render())
	return nil
}
