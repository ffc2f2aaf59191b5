package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/xdot/internal/protocol"
)

// modesCmd lists the payload mode registry; it needs no sensor.
var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List payload modes",
	Long: `Lists the payload modes a DOT sensor can stream, the characteristic each one is
delivered on, and the frame layout. Modes without a layout can be armed but not decoded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CODE\tNAME\tCHARACTERISTIC\tBYTES\tLAYOUT")
		fmt.Fprintln(tw, strings.Repeat("-", 90))
		for _, m := range protocol.Modes() {
			size, layout := "-", "(not published)"
			if m.Schema != nil {
				size = fmt.Sprint(m.Schema.Len())
				layout = m.Schema.String()
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", m.Code, m.Name, m.Characteristic, size, layout)
		}
		return tw.Flush()
	},
}
