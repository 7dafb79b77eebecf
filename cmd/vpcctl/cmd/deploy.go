package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mulgadc/vpcctl/vpcctl/reconciler"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Start a trivial HTTP workload inside a subnet's namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		vpc, _ := cmd.Flags().GetString("vpc")
		subnet, _ := cmd.Flags().GetString("subnet")
		kind, _ := cmd.Flags().GetString("type")
		port, _ := cmd.Flags().GetInt("port")

		return runMutating("deploy", func(ctx context.Context, rec *reconciler.Reconciler) error {
			return rec.Deploy(ctx, vpc, subnet, kind, port)
		})
	},
}

func init() {
	deployCmd.Flags().String("vpc", "", "VPC name")
	deployCmd.Flags().String("subnet", "", "subnet name")
	deployCmd.Flags().String("type", "", "workload type: nginx, python or builtin")
	deployCmd.Flags().Int("port", 0, "listen port")
	deployCmd.MarkFlagRequired("vpc")
	deployCmd.MarkFlagRequired("subnet")
	deployCmd.MarkFlagRequired("type")
	deployCmd.MarkFlagRequired("port")
	rootCmd.AddCommand(deployCmd)
}
