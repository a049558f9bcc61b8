package main

import (
	"github.com/spf13/cobra"
)

func newPricingCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pricing",
		Short: "Print the pricing an optimization would use",
		Long: `Resolves market pricing the same way the advisor does: built-in defaults,
then the plant file, then redis when --redis is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := g.profile()
			if err != nil {
				return err
			}
			pricing, err := basePricing(profile)
			if err != nil {
				return err
			}

			store, err := g.openRedis(pricing)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
				if pricing, err = store.Pricing(cmd.Context()); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), pricing)
		},
	}
}

