package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// policyCmd groups the governance Store's policy operations: set, which
// installs a new policy version from a file, and list.
func policyCmd(brokerURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Set or list governance policies",
	}

	cmd.AddCommand(policySetCmd(brokerURL))
	cmd.AddCommand(policyListCmd(brokerURL))

	return cmd
}

func policySetCmd(brokerURL *string) *cobra.Command {
	var id string
	var autoExecutable bool
	var contextPairs []string

	cmd := &cobra.Command{
		Use:   "set <type> <file>",
		Short: "Set a policy from a YAML or JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			policyType, path := args[0], args[1]

			body, err := readPolicyBody(path)
			if err != nil {
				return preconditionFailed(err)
			}

			policyContext, err := parseKeyValuePairs(contextPairs)
			if err != nil {
				return preconditionFailed(err)
			}

			return withRPCClient(*brokerURL, func(ctx context.Context, c *rpcClient) error {
				result, err := c.call(ctx, "policy_set", "", map[string]interface{}{
					"id":              id,
					"type":            policyType,
					"auto_executable": autoExecutable,
					"body":            body,
					"context":         policyContext,
				})
				if err != nil {
					return err
				}
				fmt.Printf("set policy %v (version %v)\n", result.Payload["id"], result.Payload["version"])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "policy id, generated if omitted")
	cmd.Flags().BoolVar(&autoExecutable, "auto-executable", false, "mark the policy eligible for automatic execution")
	cmd.Flags().StringArrayVar(&contextPairs, "context", nil, "key=value scope this policy is reinforced by on a matching pleasure signal, repeatable")

	return cmd
}

// readPolicyBody loads path and decodes it as YAML or JSON depending on its
// extension (.json decodes as JSON; anything else is parsed as YAML, which
// is a superset of JSON so a .yaml/.yml extension is not actually required).
func readPolicyBody(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	body := make(map[string]interface{})
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("parsing %s as JSON: %w", path, err)
		}
		return body, nil
	}
	if err := yaml.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("parsing %s as YAML: %w", path, err)
	}
	return body, nil
}

func policyListCmd(brokerURL *string) *cobra.Command {
	var policyType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List policies, optionally filtered by type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRPCClient(*brokerURL, func(ctx context.Context, c *rpcClient) error {
				result, err := c.call(ctx, "policy_list", "", map[string]interface{}{"type": policyType})
				if err != nil {
					return err
				}
				policies, _ := result.Payload["policies"].([]interface{})
				if len(policies) == 0 {
					fmt.Println("no policies")
					return nil
				}
				for _, raw := range policies {
					p, ok := raw.(map[string]interface{})
					if !ok {
						continue
					}
					fmt.Printf("%-20v %-14v version=%v\n", p["id"], p["type"], p["version"])
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&policyType, "type", "", "filter by policy type")

	return cmd
}
