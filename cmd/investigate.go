package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fedprobe/internal/model"
)

var (
	intentFile     string
	intentType     string
	intentOrg      string
	intentDomain   string
	intentFrom     string
	intentTo       string
	investigateOut string
)

var investigateCmd = &cobra.Command{
	Use:   "investigate",
	Short: "Run one investigation to completion and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("investigate"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		intent, err := loadIntent()
		if err != nil {
			return err
		}

		c, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		inv, err := c.Manager.Run(ctx, intent)
		if err != nil {
			return eris.Wrap(err, "investigate")
		}

		out := os.Stdout
		if investigateOut != "" {
			f, err := os.Create(investigateOut)
			if err != nil {
				return eris.Wrap(err, "investigate: create output file")
			}
			defer f.Close()
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(inv); err != nil {
			return eris.Wrap(err, "investigate: encode result")
		}

		zap.L().Info("investigation finished",
			zap.String("id", inv.ID),
			zap.String("status", string(inv.Status)),
			zap.Float64("confidence", inv.ConfidenceScore))
		return nil
	},
}

// loadIntent reads the intent either from a JSON file or from flags.
func loadIntent() (model.Intent, error) {
	if intentFile != "" {
		raw, err := os.ReadFile(intentFile)
		if err != nil {
			return model.Intent{}, eris.Wrap(err, "investigate: read intent file")
		}
		var intent model.Intent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return model.Intent{}, eris.Wrap(err, "investigate: parse intent file")
		}
		return intent, nil
	}

	if intentType == "" {
		return model.Intent{}, eris.New("investigate: either --intent or --type is required")
	}
	intent := model.Intent{
		Type:       model.IntentType(intentType),
		Confidence: 1,
		Filters: model.IntentFilters{
			OrgRef: intentOrg,
			Domain: model.Domain(intentDomain),
		},
	}
	if intentFrom != "" || intentTo != "" {
		var dr model.DateRange
		var err error
		if intentFrom != "" {
			if dr.From, err = time.Parse("2006-01-02", intentFrom); err != nil {
				return model.Intent{}, eris.Wrap(err, "investigate: parse --from")
			}
		}
		if intentTo != "" {
			if dr.To, err = time.Parse("2006-01-02", intentTo); err != nil {
				return model.Intent{}, eris.Wrap(err, "investigate: parse --to")
			}
		}
		intent.Filters.DateRange = &dr
	}
	return intent, nil
}

func init() {
	investigateCmd.Flags().StringVarP(&intentFile, "intent", "f", "", "path to an intent JSON file")
	investigateCmd.Flags().StringVar(&intentType, "type", "", "intent type (anomaly_scan, contract_search, supplier_profile, network_analysis, spending_trend)")
	investigateCmd.Flags().StringVar(&intentOrg, "org", "", "organization filter")
	investigateCmd.Flags().StringVar(&intentDomain, "domain", "", "primary data domain filter")
	investigateCmd.Flags().StringVar(&intentFrom, "from", "", "date range start (YYYY-MM-DD)")
	investigateCmd.Flags().StringVar(&intentTo, "to", "", "date range end (YYYY-MM-DD)")
	investigateCmd.Flags().StringVarP(&investigateOut, "out", "o", "", "write the result JSON to a file instead of stdout")
	rootCmd.AddCommand(investigateCmd)
}
