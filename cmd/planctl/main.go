// Command planctl drives the media plan conversation from a terminal and
// previews the channel engine and the effective policy.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mediaplan/backend/internal/policy"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var policyFile string

	root := &cobra.Command{
		Use:           "planctl",
		Short:         "Media plan conversation tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&policyFile, "policy", os.Getenv("POLICY_FILE"), "YAML policy override file")

	loadPolicy := func() (policy.Policy, error) {
		return policy.Load(policyFile)
	}
	root.AddCommand(newChatCmd(loadPolicy), newRecommendCmd(loadPolicy), newPolicyCmd(loadPolicy))
	return root
}
