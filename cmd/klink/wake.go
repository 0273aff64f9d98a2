package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kodilink/internal/wol"
)

func wakeCommand() *cobra.Command {
	var broadcast string

	cmd := &cobra.Command{
		Use:   "wake",
		Short: "Wake the host over the network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			if app.host.MAC == "" {
				return fmt.Errorf("host %s has no mac configured", app.host.ID)
			}
			if err := wol.Wake(app.host.MAC, broadcast); err != nil {
				return err
			}
			fmt.Printf("magic packet sent to %s\n", app.host.MAC)
			return nil
		},
	}
	cmd.Flags().StringVar(&broadcast, "broadcast", "", "broadcast address override")

	return cmd
}
