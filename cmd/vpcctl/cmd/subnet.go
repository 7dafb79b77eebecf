package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mulgadc/vpcctl/vpcctl/reconciler"
)

var createSubnetCmd = &cobra.Command{
	Use:   "create-subnet",
	Short: "Create a subnet (namespace + veth into the VPC bridge)",
	RunE: func(cmd *cobra.Command, args []string) error {
		vpc, _ := cmd.Flags().GetString("vpc")
		name, _ := cmd.Flags().GetString("name")
		cidr, _ := cmd.Flags().GetString("cidr")
		subnetType, _ := cmd.Flags().GetString("type")

		return runMutating("create-subnet", func(ctx context.Context, rec *reconciler.Reconciler) error {
			return rec.CreateSubnet(ctx, vpc, name, cidr, subnetType)
		})
	},
}

var deleteSubnetCmd = &cobra.Command{
	Use:   "delete-subnet",
	Short: "Delete a subnet and its kernel objects",
	RunE: func(cmd *cobra.Command, args []string) error {
		vpc, _ := cmd.Flags().GetString("vpc")
		name, _ := cmd.Flags().GetString("name")

		return runMutating("delete-subnet", func(ctx context.Context, rec *reconciler.Reconciler) error {
			return rec.DeleteSubnet(ctx, vpc, name)
		})
	},
}

func init() {
	createSubnetCmd.Flags().String("vpc", "", "parent VPC name")
	createSubnetCmd.Flags().String("name", "", "subnet name (unique within the VPC)")
	createSubnetCmd.Flags().String("cidr", "", "subnet IPv4 CIDR (contained in the VPC CIDR)")
	createSubnetCmd.Flags().String("type", "", "subnet type: public (NAT-ed) or private")
	createSubnetCmd.MarkFlagRequired("vpc")
	createSubnetCmd.MarkFlagRequired("name")
	createSubnetCmd.MarkFlagRequired("cidr")
	createSubnetCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(createSubnetCmd)

	deleteSubnetCmd.Flags().String("vpc", "", "parent VPC name")
	deleteSubnetCmd.Flags().String("name", "", "subnet name")
	deleteSubnetCmd.MarkFlagRequired("vpc")
	deleteSubnetCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(deleteSubnetCmd)
}
