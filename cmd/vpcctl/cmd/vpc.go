package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mulgadc/vpcctl/vpcctl/reconciler"
)

var createVpcCmd = &cobra.Command{
	Use:   "create-vpc",
	Short: "Create a VPC (bridge + gateway address)",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		cidr, _ := cmd.Flags().GetString("cidr")

		return runMutating("create-vpc", func(ctx context.Context, rec *reconciler.Reconciler) error {
			return rec.CreateVPC(ctx, name, cidr)
		})
	},
}

var deleteVpcCmd = &cobra.Command{
	Use:   "delete-vpc",
	Short: "Delete a VPC and everything it owns (subnets, peerings, bridge)",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		return runMutating("delete-vpc", func(ctx context.Context, rec *reconciler.Reconciler) error {
			return rec.DeleteVPC(ctx, name)
		})
	},
}

func init() {
	createVpcCmd.Flags().String("name", "", "VPC name ([a-z0-9-], unique on the host)")
	createVpcCmd.Flags().String("cidr", "", "VPC IPv4 CIDR block (prefix /24 or larger)")
	createVpcCmd.MarkFlagRequired("name")
	createVpcCmd.MarkFlagRequired("cidr")
	rootCmd.AddCommand(createVpcCmd)

	deleteVpcCmd.Flags().String("name", "", "VPC name")
	deleteVpcCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(deleteVpcCmd)
}
