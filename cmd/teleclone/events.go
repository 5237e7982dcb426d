package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blockedby/teleclone/internal/events"
	"github.com/blockedby/teleclone/internal/media"
	"github.com/blockedby/teleclone/internal/transfer"
)

func newEventsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "events [forward|mirror]",
		Short:     "Print relay events published by running transfers",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{transfer.ModeForward, transfer.ModeMirror},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ec, err := a.eventsClient(ctx)
			if err != nil {
				return err
			}

			subject := events.SubjectAll
			if len(args) == 1 {
				subject = events.Subject(args[0])
			}

			return ec.Tail(ctx, subject, func(data []byte) error {
				var ev transfer.RelayEvent
				if err := json.Unmarshal(data, &ev); err != nil {
					a.log.Warn().Err(err).Msg("events: undecodable event")
					return err
				}
				outcome := ev.Outcome
				switch outcome {
				case media.OutcomeSent.String():
					outcome = color.GreenString(outcome)
				case media.OutcomeFailed.String():
					outcome = color.RedString(outcome)
				default:
					outcome = color.YellowString(outcome)
				}
				fmt.Printf("%s %s %d→%d #%d %s %s\n",
					ev.CreatedAt.Format("15:04:05"), ev.Mode, ev.SourceID, ev.DestinationID, ev.MessageID, outcome, ev.FileName)
				return nil
			})
		},
	}
}
