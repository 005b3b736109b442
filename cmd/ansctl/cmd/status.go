package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show registry status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			resp, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Status:       %s\n", resp.Status)
			fmt.Printf("Uptime:       %s\n", resp.Uptime)
			fmt.Printf("Started At:   %s\n", resp.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Agents:       %d\n", resp.AgentCount)
			fmt.Printf("Store:        %s\n", resp.StoreBackend)
			fmt.Printf("Sync:         %v\n", resp.SyncEnabled)
			return nil
		},
	}
}
