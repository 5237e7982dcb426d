package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blockedby/teleclone/internal/telegram"
)

func newDialogsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dialogs",
		Short: "List groups and channels the account is in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			tg, err := a.connect(ctx)
			if err != nil {
				return err
			}

			var list []telegram.Peer
			err = a.flood.Do(ctx, "dialogs", func(ctx context.Context) (err error) {
				list, err = tg.Dialogs(ctx)
				return err
			})
			if err != nil {
				return err
			}

			slices.SortFunc(list, func(x, y telegram.Peer) int {
				return cmp.Compare(strings.ToLower(x.DisplayName()), strings.ToLower(y.DisplayName()))
			})

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tUSERNAME\tFORUM")
			for _, p := range list {
				if p.Kind == telegram.PeerUser {
					continue
				}
				forum := ""
				if p.IsForum {
					forum = "yes"
				}
				user := ""
				if p.Username != "" {
					user = "@" + p.Username
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.DisplayName(), user, forum)
			}
			return w.Flush()
		},
	}
}

func newTopicsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "topics <peer>",
		Short: "List the forum topics of a conversation",
		Long:  `List the forum topics of a conversation. Either the INDEX or the ID column can be passed to --src-topic and --dst-topic.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tg, err := a.connect(ctx)
			if err != nil {
				return err
			}
			peers, err := a.peers(ctx, tg, args[0])
			if err != nil {
				return err
			}

			list, err := a.resolver(tg).Topics(ctx, peers[0])
			if err != nil {
				return err
			}

			fmt.Println(color.CyanString("%s", peers[0].DisplayName()))
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tID\tTITLE")
			for i, t := range list {
				fmt.Fprintf(w, "%d\t%d\t%s\n", i, t.ID, t.Title)
			}
			return w.Flush()
		},
	}
}
