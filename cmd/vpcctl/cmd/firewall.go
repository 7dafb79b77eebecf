package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mulgadc/vpcctl/vpcctl/firewall"
	"github.com/mulgadc/vpcctl/vpcctl/reconciler"
)

var applyFirewallCmd = &cobra.Command{
	Use:   "apply-firewall",
	Short: "Apply a firewall policy document to a subnet (last write wins)",
	RunE: func(cmd *cobra.Command, args []string) error {
		vpc, _ := cmd.Flags().GetString("vpc")
		subnet, _ := cmd.Flags().GetString("subnet")
		policyPath, _ := cmd.Flags().GetString("policy")

		policy, err := firewall.Load(policyPath)
		if err != nil {
			return err
		}

		return runMutating("apply-firewall", func(ctx context.Context, rec *reconciler.Reconciler) error {
			return rec.ApplyFirewall(ctx, vpc, subnet, policy)
		})
	},
}

func init() {
	applyFirewallCmd.Flags().String("vpc", "", "VPC name")
	applyFirewallCmd.Flags().String("subnet", "", "subnet name")
	applyFirewallCmd.Flags().String("policy", "", "path to JSON policy document")
	applyFirewallCmd.MarkFlagRequired("vpc")
	applyFirewallCmd.MarkFlagRequired("subnet")
	applyFirewallCmd.MarkFlagRequired("policy")
	rootCmd.AddCommand(applyFirewallCmd)
}
