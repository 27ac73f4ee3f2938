package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/Chative-Retention-Router/agent/retention"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

var (
	offersTier   string
	offersReason string
	lookupEmail  string
)

var offersCmd = &cobra.Command{
	Use:   "offers",
	Short: "Show the retention offers for a tier and reason",
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := statex.ParseTier(offersTier)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(envFile)
		if err != nil {
			return err
		}
		table, err := retention.Load(cfg.Data.RulesFile)
		if err != nil {
			return err
		}

		reason := strings.TrimSpace(offersReason)
		if reason == "" {
			reason = retention.ReasonOther
		}
		offers := table.OffersFor(tier, reason)
		if n := table.MaxOffers(); len(offers) > n {
			offers = offers[:n]
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tDESCRIPTION")
		for _, o := range offers {
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.ID, o.Kind, o.Description)
		}
		return w.Flush()
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up a customer by email",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, stop, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer stop()

		rec, err := a.directory.Lookup(cmd.Context(), lookupEmail)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "id\t%s\n", rec.CustomerID)
		fmt.Fprintf(w, "name\t%s\n", rec.Name)
		fmt.Fprintf(w, "email\t%s\n", rec.Email)
		fmt.Fprintf(w, "tier\t%s\n", rec.Tier)
		fmt.Fprintf(w, "plan\t%s ($%.2f/month)\n", rec.PlanName, rec.MonthlyPayment)
		fmt.Fprintf(w, "device\t%s\n", rec.Device)
		fmt.Fprintf(w, "status\t%s\n", rec.Status)
		return w.Flush()
	},
}

func init() {
	offersCmd.Flags().StringVar(&offersTier, "tier", "standard", "Customer tier (standard, silver, gold)")
	offersCmd.Flags().StringVar(&offersReason, "reason", "", "Cancellation reason, e.g. cost or battery")

	lookupCmd.Flags().StringVar(&lookupEmail, "email", "", "Customer email")
	_ = lookupCmd.MarkFlagRequired("email")
}
