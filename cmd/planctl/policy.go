package main

import (
	"github.com/spf13/cobra"

	"mediaplan/backend/internal/policy"
)

func newPolicyCmd(loadPolicy func() (policy.Policy, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective policy as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadPolicy()
			if err != nil {
				return err
			}
			data, err := p.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
