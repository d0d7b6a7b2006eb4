package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// auditCmd requests an S3* audit bypass against a target agent, reaching
// C9 through the same audit_request handler the coordinator registers on
// its own command queue.
func auditCmd(brokerURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <target> <operation>",
		Short: "Request a direct audit of a level-1 agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, operation := args[0], args[1]
			return withRPCClient(*brokerURL, func(ctx context.Context, c *rpcClient) error {
				result, err := c.call(ctx, "audit_request", target, map[string]interface{}{"operation": operation})
				if err != nil {
					return err
				}
				out, marshalErr := json.MarshalIndent(result.Payload, "", "  ")
				if marshalErr != nil {
					fmt.Printf("%+v\n", result.Payload)
					return nil
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
}
