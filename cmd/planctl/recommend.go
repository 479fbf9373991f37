package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/plan"
	"mediaplan/backend/internal/policy"
	"mediaplan/backend/internal/recommend"
	"mediaplan/backend/internal/validate"
)

func newRecommendCmd(loadPolicy func() (policy.Policy, error)) *cobra.Command {
	var (
		industry    string
		budget      string
		preferences []string
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Preview the channel allocation for an industry and budget",
		Example: `  planctl recommend --industry bakery --budget "$2,000/month" --pref "social media"
  planctl recommend --industry "dental clinic" --budget "5 lakh per month"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadPolicy()
			if err != nil {
				return err
			}
			parsed, err := validate.Budget(budget, p.DefaultCurrency)
			if err != nil {
				var validationErr *validate.ValidationError
				if errors.As(err, &validationErr) {
					return fmt.Errorf("invalid --budget: %s", validationErr.Reason)
				}
				return err
			}

			engine := recommend.NewEngine(p)
			channels, err := engine.Recommend(industry, &parsed, preferences)
			if err != nil {
				return err
			}
			return printAllocation(cmd.OutOrStdout(), engine.Classify(industry), parsed, channels)
		},
	}
	cmd.Flags().StringVar(&industry, "industry", "", "business industry, e.g. bakery")
	cmd.Flags().StringVar(&budget, "budget", "", `budget such as "$2,000/month"`)
	cmd.Flags().StringSliceVar(&preferences, "pref", nil, "channel preference (repeatable)")
	_ = cmd.MarkFlagRequired("industry")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func printAllocation(out io.Writer, category string, budget mediaplan.Budget, channels []mediaplan.ChannelAllocation) error {
	fmt.Fprintf(out, "Category: %s\nBudget:   %s\n\n", category, plan.BudgetLabel(budget))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tSHARE\tMONTHLY\tWHY")
	for _, channel := range channels {
		fmt.Fprintf(tw, "%s\t%d%%\t%s %s\t%s\n",
			channel.Channel,
			channel.Percent,
			budget.Currency,
			humanize.CommafWithDigits(channel.Amount, 2),
			channel.Rationale,
		)
	}
	return tw.Flush()
}
