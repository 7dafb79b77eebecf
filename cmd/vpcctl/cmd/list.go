package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
	"github.com/mulgadc/vpcctl/vpcctl/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List VPCs, their CIDRs, subnets and peerings",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		// Read-only: no advisory lock needed.
		records, err := store.New(appConfig.StateDir).List()
		if err != nil {
			return err
		}

		switch format {
		case "table":
			renderTable(records)
			return nil
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		case "toml":
			// TOML cannot encode a bare array; wrap in a document.
			return toml.NewEncoder(os.Stdout).Encode(map[string][]*store.VPC{"vpcs": records})
		default:
			return errdefs.Validation("unknown format %q (want table, json or toml)", format)
		}
	},
}

func renderTable(records []*store.VPC) {
	if len(records) == 0 {
		pterm.Println("No VPCs defined.")
		return
	}

	tableData := pterm.TableData{
		{"VPC", "CIDR", "SUBNETS", "PEERINGS"},
	}
	for _, record := range records {
		var subnets []string
		for _, subnet := range record.Subnets {
			subnets = append(subnets, fmt.Sprintf("%s=%s (%s)", subnet.Name, subnet.CIDR, subnet.Type))
		}
		var peers []string
		for _, peering := range record.Peerings {
			peers = append(peers, peering.Peer)
		}
		tableData = append(tableData, []string{
			record.Name,
			record.CIDR,
			strings.Join(subnets, ", "),
			strings.Join(peers, ", "),
		})
	}

	pterm.DefaultTable.WithHasHeader().WithLeftAlignment().WithData(tableData).Render()
}

func init() {
	listCmd.Flags().String("format", "table", "output format: table, json or toml")
	rootCmd.AddCommand(listCmd)
}
