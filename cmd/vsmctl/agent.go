package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// agentCmd groups the agent lifecycle operations the Supervisor exposes:
// spawn, terminate, and list, each a single RPC against the running
// control plane's agent_spawn/agent_terminate/agent_list handlers.
func agentCmd(brokerURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Spawn, terminate, or list supervised level-1 agents",
	}

	cmd.AddCommand(agentSpawnCmd(brokerURL))
	cmd.AddCommand(agentTerminateCmd(brokerURL))
	cmd.AddCommand(agentListCmd(brokerURL))

	return cmd
}

func agentSpawnCmd(brokerURL *string) *cobra.Command {
	var id string
	var configPairs []string

	cmd := &cobra.Command{
		Use:   "spawn <type>",
		Short: "Spawn a new supervised agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentType := args[0]
			cfg, err := parseKeyValuePairs(configPairs)
			if err != nil {
				return preconditionFailed(err)
			}

			return withRPCClient(*brokerURL, func(ctx context.Context, c *rpcClient) error {
				result, err := c.call(ctx, "agent_spawn", "", map[string]interface{}{
					"agent_type": agentType,
					"id":         id,
					"config":     cfg,
				})
				if err != nil {
					return err
				}
				fmt.Printf("spawned agent %v (type %v)\n", result.Payload["id"], result.Payload["type"])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "agent id, generated if omitted")
	cmd.Flags().StringArrayVar(&configPairs, "config", nil, "agent config as key=value, repeatable")

	return cmd
}

func agentTerminateCmd(brokerURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate <id>",
		Short: "Terminate a supervised agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRPCClient(*brokerURL, func(ctx context.Context, c *rpcClient) error {
				if _, err := c.call(ctx, "agent_terminate", args[0], nil); err != nil {
					return err
				}
				fmt.Printf("terminated agent %s\n", args[0])
				return nil
			})
		},
	}
}

func agentListCmd(brokerURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every supervised agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRPCClient(*brokerURL, func(ctx context.Context, c *rpcClient) error {
				result, err := c.call(ctx, "agent_list", "", nil)
				if err != nil {
					return err
				}
				agents, _ := result.Payload["agents"].([]interface{})
				if len(agents) == 0 {
					fmt.Println("no supervised agents")
					return nil
				}
				for _, raw := range agents {
					a, ok := raw.(map[string]interface{})
					if !ok {
						continue
					}
					fmt.Printf("%-20v %-12v restarts=%v started=%v\n", a["id"], a["type"], a["restarts"], a["started_at"])
				}
				return nil
			})
		},
	}
}
