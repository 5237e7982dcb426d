package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blockedby/teleclone/internal/invite"
)

func newInviteCmd(a *app) *cobra.Command {
	var (
		limit int
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "invite <src> <dst>",
		Short: "Invite the members of one group into another",
		Long: `Invite every reachable member of the source into the destination. ` +
			`Members with neither username nor phone are skipped. The run stops ` +
			`at the first PEER_FLOOD or when admin rights are missing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tg, err := a.connect(ctx)
			if err != nil {
				return err
			}
			peers, err := a.peers(ctx, tg, args...)
			if err != nil {
				return err
			}

			sum, err := invite.New(tg, a.flood, a.log).Copy(ctx, peers[0], peers[1], invite.Options{
				Limit: limit,
				Delay: delay,
				OnResult: func(r invite.Result) {
					name := r.Participant.Username
					if name == "" {
						name = fmt.Sprint(r.Participant.ID)
					}
					switch r.Status {
					case invite.StatusInvited:
						fmt.Fprintf(os.Stderr, "%s %s\n", color.GreenString("invited"), name)
					case invite.StatusFailed:
						fmt.Fprintf(os.Stderr, "%s %s: %v\n", color.RedString("failed"), name, r.Err)
					default:
						fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString(r.Status.String()), name)
					}
				},
			})
			fmt.Printf("invited: %d, already members: %d, privacy: %d, quota: %d, unreachable: %d, failed: %d\n",
				sum.Invited, sum.AlreadyMember, sum.Privacy, sum.Quota, sum.Unreachable, sum.Failed)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many invitations, 0 = all")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between invitations")
	return cmd
}
