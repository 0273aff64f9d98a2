package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kodilink/internal/kodi"
)

func audioCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audio [index]",
		Short: "List audio streams or select one",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			player, err := app.activePlayer(ctx)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				index, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("stream index %q: %w", args[0], err)
				}
				return app.client.SetAudioStream(ctx, player, index)
			}

			props, err := app.client.PlayerProperties(ctx, player,
				[]string{"audiostreams", "currentaudiostream"})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			for _, s := range props.AudioStreams {
				marker := " "
				if s.Index == props.CurrentAudioStream.Index {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %d\t%s\t%s\t%dch\n", marker, s.Index, s.Language, s.Codec, s.Channels)
			}
			return nil
		},
	}
}

func subtitleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "subtitle [index|off]",
		Short: "List subtitles, select one, or disable them",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			player, err := app.activePlayer(ctx)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				if args[0] == "off" {
					return app.client.SetSubtitle(ctx, player, 0, false)
				}
				index, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("subtitle index %q: %w", args[0], err)
				}
				return app.client.SetSubtitle(ctx, player, index, true)
			}

			props, err := app.client.PlayerProperties(ctx, player, kodi.SubtitleProperties)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			if !props.SubtitleEnabled {
				fmt.Fprintln(w, "subtitles off")
			}
			for _, s := range props.Subtitles {
				marker := " "
				if props.SubtitleEnabled && s.Index == props.CurrentSubtitle.Index {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %d\t%s\t%s\n", marker, s.Index, s.Language, s.Name)
			}
			return nil
		},
	}
}
