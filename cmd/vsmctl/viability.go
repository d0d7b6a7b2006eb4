package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// viabilityCmd reads the S5 Viability Evaluator's current composite score.
func viabilityCmd(brokerURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "viability",
		Short: "Print the current system viability score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRPCClient(*brokerURL, func(ctx context.Context, c *rpcClient) error {
				result, err := c.call(ctx, "viability_get", "", nil)
				if err != nil {
					return err
				}
				fmt.Printf("viability score: %v\n", result.Payload["score"])
				return nil
			})
		},
	}
}
