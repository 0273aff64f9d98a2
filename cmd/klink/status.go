package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kodilink/internal/kodi"
)

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show playback status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()

			players, err := app.client.ActivePlayers(ctx)
			if err != nil {
				return err
			}
			appProps, err := app.client.ApplicationProperties(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "host\t%s (%s)\n", app.host.ID, app.host.Address)
			fmt.Fprintf(w, "volume\t%d%%", appProps.Volume)
			if appProps.Muted {
				fmt.Fprint(w, " (muted)")
			}
			fmt.Fprintln(w)

			if len(players) == 0 {
				fmt.Fprintf(w, "playback\tidle\n")
				return nil
			}
			player := players[0]

			props, err := app.client.PlayerProperties(ctx, player.PlayerID, kodi.BaseProperties)
			if err != nil {
				return err
			}
			item, err := app.client.PlayerItem(ctx, player.PlayerID, kodi.BaseItemProperties)
			if err != nil {
				return err
			}

			status := "paused"
			if props.Speed != 0 {
				status = "playing"
			}
			fmt.Fprintf(w, "playback\t%s (%s)\n", status, player.Type)
			if item.Title != "" {
				fmt.Fprintf(w, "title\t%s\n", item.Title)
			} else if item.Label != "" {
				fmt.Fprintf(w, "title\t%s\n", item.Label)
			}
			if item.ShowTitle != "" {
				fmt.Fprintf(w, "show\t%s\n", item.ShowTitle)
			}
			fmt.Fprintf(w, "position\t%s / %s\n",
				formatClock(props.Time.Duration()),
				formatClock(props.TotalTime.Duration()))
			return nil
		},
	}
}

func formatClock(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
