package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mulgadc/vpcctl/vpcctl/reconciler"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Peer two VPCs (veth between bridges, routes, forward-allow)",
	RunE: func(cmd *cobra.Command, args []string) error {
		vpc1, _ := cmd.Flags().GetString("vpc1")
		vpc2, _ := cmd.Flags().GetString("vpc2")

		return runMutating("peer", func(ctx context.Context, rec *reconciler.Reconciler) error {
			return rec.Peer(ctx, vpc1, vpc2)
		})
	},
}

func init() {
	peerCmd.Flags().String("vpc1", "", "first VPC name")
	peerCmd.Flags().String("vpc2", "", "second VPC name")
	peerCmd.MarkFlagRequired("vpc1")
	peerCmd.MarkFlagRequired("vpc2")
	rootCmd.AddCommand(peerCmd)
}
