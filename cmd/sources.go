package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/fedprobe/internal/model"
)

var sourcesProbe bool

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered data sources and their circuit state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sources"); err != nil {
			return err
		}

		c, err := initCore(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		states := c.Breakers.States()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTIER\tDOMAINS\tCIRCUIT\tHEALTH")
		for _, desc := range c.Registry.All() {
			circuit := "closed"
			if st, ok := states[desc.ID]; ok {
				circuit = st.String()
			}

			health := "-"
			if sourcesProbe {
				health = probeHealth(cmd.Context(), c, desc)
			}

			domains := make([]string, 0, len(desc.Capabilities))
			for _, d := range desc.Capabilities {
				domains = append(domains, string(d))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				desc.ID, desc.Name, desc.Tier, strings.Join(domains, ","), circuit, health)
		}
		return w.Flush()
	},
}

func probeHealth(ctx context.Context, c *core, desc model.SourceDescriptor) string {
	client := c.Clients.Get(desc.ID)
	if client == nil {
		return "no adapter"
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h := client.Health(probeCtx)
	if !h.Available {
		return "unavailable"
	}
	return fmt.Sprintf("ok (%s)", h.LatencyHint.Round(time.Millisecond))
}

func init() {
	sourcesCmd.Flags().BoolVar(&sourcesProbe, "probe", false, "probe each source's health endpoint")
	rootCmd.AddCommand(sourcesCmd)
}
