package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func toggleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Toggle play/pause",
		Args:  cobra.NoArgs,
		RunE:  toggleRunE,
	}
}

func pauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Toggle play/pause",
		Args:  cobra.NoArgs,
		RunE:  toggleRunE,
	}
}

func toggleRunE(cmd *cobra.Command, args []string) error {
	app := fromContext(cmd)
	ctx, cancel := withTimeout(cmd.Context(), app.timeout)
	defer cancel()

	player, err := app.activePlayer(ctx)
	if err != nil {
		return err
	}
	app.markCooldown()
	speed, err := app.client.PlayPause(ctx, player)
	if err != nil {
		return err
	}
	if speed == 0 {
		fmt.Println("paused")
	} else {
		fmt.Println("playing")
	}
	return nil
}

func stopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop playback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			player, err := app.activePlayer(ctx)
			if err != nil {
				return err
			}
			app.markCooldown()
			return app.client.Stop(ctx, player)
		},
	}
}

func nextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Skip to the next item",
		Args:  cobra.NoArgs,
		RunE:  goToRunE("next"),
	}
}

func prevCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prev",
		Short: "Skip to the previous item",
		Args:  cobra.NoArgs,
		RunE:  goToRunE("previous"),
	}
}

func goToRunE(to string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app := fromContext(cmd)
		ctx, cancel := withTimeout(cmd.Context(), app.timeout)
		defer cancel()

		player, err := app.activePlayer(ctx)
		if err != nil {
			return err
		}
		return app.client.GoTo(ctx, player, to)
	}
}

func seekCommand() *cobra.Command {
	var percent float64

	cmd := &cobra.Command{
		Use:   "seek [offset]",
		Short: "Seek by a relative offset (+30s, -1m) or to a percent",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			player, err := app.activePlayer(ctx)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("percent") {
				app.markCooldown()
				return app.client.SeekPercent(ctx, player, percent)
			}
			if len(args) != 1 {
				return fmt.Errorf("seek needs an offset or --percent")
			}
			offset, err := parseOffset(args[0])
			if err != nil {
				return err
			}

			target, err := seekTarget(ctx, app, player, offset)
			if err != nil {
				return err
			}
			app.markCooldown()
			return app.client.SeekTime(ctx, player, target)
		},
	}
	cmd.Flags().Float64Var(&percent, "percent", 0, "absolute position as a percentage")

	return cmd
}

func seekTarget(ctx context.Context, app *app, player int, offset time.Duration) (time.Duration, error) {
	props, err := app.client.PlayerProperties(ctx, player, []string{"time", "totaltime"})
	if err != nil {
		return 0, err
	}
	target := props.Time.Duration() + offset
	total := props.TotalTime.Duration()
	if target < 0 {
		target = 0
	}
	if total > 0 && target > total {
		target = total
	}
	return target, nil
}

func parseOffset(arg string) (time.Duration, error) {
	trimmed := strings.TrimPrefix(arg, "+")
	offset, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("offset %q: %w", arg, err)
	}
	return offset, nil
}
