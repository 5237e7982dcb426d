package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blockedby/teleclone/internal/checkpoint"
	"github.com/blockedby/teleclone/internal/topics"
	"github.com/blockedby/teleclone/internal/transfer"
)

// transferFlags are shared by forward and mirror. Topic selectors are
// read with optionalInt since 0 (General) is a valid value.
type transferFlags struct {
	stripCaptions bool
	workers       int
}

func (f *transferFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int("src-topic", 0, "source topic id or index (see topics)")
	cmd.Flags().Int("dst-topic", 0, "destination topic id or index")
	cmd.Flags().BoolVar(&f.stripCaptions, "strip-captions", false, "drop captions from media")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "parallel relays, default RELAY_CONCURRENCY")
}

func (f *transferFlags) workerCount(a *app) int {
	if f.workers > 0 {
		return f.workers
	}
	return a.cfg.RelayConcurrency
}

func newForwardCmd(a *app) *cobra.Command {
	var (
		flags   transferFlags
		resume  bool
		restart bool
		count   bool
	)
	cmd := &cobra.Command{
		Use:   "forward <src> <dst>",
		Short: "Copy the history of a conversation or topic",
		Long: `Copy every message of the source, oldest first, into the destination. ` +
			`Progress is checkpointed per source topic so an interrupted run resumes ` +
			`after the last forwarded message.`,
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
			src, dst := peers[0], peers[1]

			// resolve here too: the checkpoint is keyed by the topic id
			srcTopic, err := a.resolver(tg).Resolve(ctx, src, optionalInt(cmd, "src-topic"))
			if err != nil {
				return fmt.Errorf("source topic: %w", err)
			}
			topicKey := topics.ID(srcTopic)

			store := checkpoint.NewStore(a.fs, a.cfg.CheckpointFile)
			if restart {
				if err := store.Clear(src.ID, topicKey); err != nil {
					return err
				}
				fmt.Fprintln(os.Stderr, color.YellowString("checkpoint cleared"))
			}

			var after *int
			if resume && !restart {
				id, ok, err := store.Get(src.ID, topicKey)
				if err != nil {
					return err
				}
				if ok {
					after = &id
					fmt.Fprintln(os.Stderr, color.CyanString("resuming after message %d", id))
				}
			}

			view := newProgressView(os.Stderr)
			bar := newTransferBar(view, src.DisplayName()+" → "+dst.DisplayName())
			progress := transfer.NewProgress(bar.onChange)
			a.log.Info().Str("run_id", progress.RunID().String()).Msg("forward requested")

			view.start()

			sum, err := a.engine(ctx, tg).Forward(ctx, transfer.Options{
				Source:           src,
				Destination:      dst,
				SourceTopic:      srcTopic,
				DestinationTopic: optionalInt(cmd, "dst-topic"),
				StripCaption:     flags.stripCaptions,
				ResumeAfter:      after,
				OnForward: func(id int) error {
					return store.Update(src.ID, topicKey, id)
				},
				Count:    count,
				Workers:  flags.workerCount(a),
				Progress: progress,
			})
			bar.done(err)
			view.stop()
			printSummary(sum)
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&resume, "resume", true, "continue after the checkpointed message")
	cmd.Flags().BoolVar(&restart, "restart", false, "clear the checkpoint and start from the first message")
	cmd.Flags().BoolVar(&count, "count", false, "count the source messages first")
	return cmd
}

func newMirrorCmd(a *app) *cobra.Command {
	var flags transferFlags
	cmd := &cobra.Command{
		Use:   "mirror <src> <dst>",
		Short: "Relay new messages as they arrive until interrupted",
		Args:  cobra.ExactArgs(2),
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

			fmt.Fprintln(os.Stderr, color.CyanString("mirroring %s → %s, press Ctrl+C to stop",
				peers[0].DisplayName(), peers[1].DisplayName()))
			view := newProgressView(os.Stderr)
			bar := newTransferBar(view, "relayed")
			progress := transfer.NewProgress(bar.onChange)

			view.start()

			err = a.engine(ctx, tg).Mirror(ctx, transfer.Options{
				Source:           peers[0],
				Destination:      peers[1],
				SourceTopic:      optionalInt(cmd, "src-topic"),
				DestinationTopic: optionalInt(cmd, "dst-topic"),
				StripCaption:     flags.stripCaptions,
				Workers:          flags.workerCount(a),
				Progress:         progress,
			})
			bar.done(err)
			view.stop()
			printSummary(progress.Summary())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func printSummary(s transfer.Summary) {
	fmt.Printf("%s %d (%s)\n", color.GreenString("sent:"), s.Sent, humanize.Bytes(uint64(s.Bytes)))
	fmt.Printf("skipped empty: %d\n", s.SkippedEmpty)
	fmt.Printf("skipped self-destructing: %d\n", s.SkippedTTL)
	if s.Failed > 0 {
		fmt.Printf("%s %d\n", color.RedString("failed:"), s.Failed)
	} else {
		fmt.Printf("failed: 0\n")
	}
}
