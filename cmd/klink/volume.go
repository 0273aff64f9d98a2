package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func volumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "volume [level]",
		Short: "Show or set the volume (0-100)",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			if len(args) == 0 {
				props, err := app.client.ApplicationProperties(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%d\n", props.Volume)
				return nil
			}

			level, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("volume level %q: %w", args[0], err)
			}
			applied, err := app.client.SetVolume(ctx, level)
			if err != nil {
				return err
			}
			fmt.Printf("%d\n", applied)
			return nil
		},
	}
}

func muteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mute",
		Short: "Toggle mute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			props, err := app.client.ApplicationProperties(ctx)
			if err != nil {
				return err
			}
			muted, err := app.client.SetMute(ctx, !props.Muted)
			if err != nil {
				return err
			}
			if muted {
				fmt.Println("muted")
			} else {
				fmt.Println("unmuted")
			}
			return nil
		},
	}
}
