package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blockedby/teleclone/internal/archive"
	"github.com/blockedby/teleclone/internal/telegram"
	"github.com/blockedby/teleclone/internal/topics"
)

// parseSize accepts "0", "500MB", "2 GiB" and plain byte counts.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

func newExportCmd(a *app) *cobra.Command {
	var (
		budget   string
		maxFile  string
		workers  int
		htmlOnly bool
	)
	cmd := &cobra.Command{
		Use:   "export <src>",
		Short: "Download a conversation into a browsable archive",
		Long: `Write chat.html and media/ under EXPORT_DIR/<conversation>/<topic>. ` +
			`Without --src-topic every topic of a forum is exported. Rerunning ` +
			`continues after the last downloaded file unless --start is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			budgetBytes, err := parseSize(budget)
			if err != nil {
				return err
			}
			maxBytes, err := parseSize(maxFile)
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = a.cfg.ExportWorkers
			}

			tg, err := a.connect(ctx)
			if err != nil {
				return err
			}
			peers, err := a.peers(ctx, tg, args[0])
			if err != nil {
				return err
			}
			src := peers[0]

			resolver := a.resolver(tg)
			list, err := resolver.Topics(ctx, src)
			if err != nil {
				return err
			}
			if sel := optionalInt(cmd, "src-topic"); sel != nil {
				id, err := topics.Select(list, *sel)
				if err != nil {
					return err
				}
				list = filterTopic(list, id)
			}

			start := optionalInt(cmd, "start")
			exp := archive.NewExporter(tg, a.flood, a.fs, a.cfg.ExportDir, a.log)
			for _, topic := range list {
				fmt.Fprintln(os.Stderr, color.CyanString("exporting %s / %s", src.DisplayName(), topic.Title))

				view := newProgressView(os.Stderr)
				view.start()
				res, err := exp.Export(ctx, src, topic, archive.ExportOptions{
					Budget:      budgetBytes,
					MaxFileSize: maxBytes,
					Workers:     workers,
					HTMLOnly:    htmlOnly,
					Progress:    newExportBar(view),
					ChooseStart: func(r archive.Resume) (int, error) {
						view.pw.Log("previous export stopped at %d/%d (%s)", r.Seq, r.Total, r.FileName)
						if start != nil {
							return *start, nil
						}
						return r.Seq + 1, nil
					},
				})
				view.stop()
				printExport(res)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("src-topic", 0, "export only this topic id or index")
	cmd.Flags().StringVar(&budget, "budget", "", "total bytes to keep on disk across runs, e.g. 5GB")
	cmd.Flags().StringVar(&maxFile, "max-file", "", "skip attachments larger than this, e.g. 200MB")
	cmd.Flags().Int("start", 1, "sequence to resume downloading from")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel downloads, default EXPORT_WORKERS")
	cmd.Flags().BoolVar(&htmlOnly, "html-only", false, "rebuild chat.html without downloading")
	return cmd
}

func filterTopic(list []telegram.Topic, id int) []telegram.Topic {
	for _, t := range list {
		if t.ID == id {
			return []telegram.Topic{t}
		}
	}
	return nil
}

func printExport(r archive.ExportResult) {
	fmt.Printf("%s %s\n", color.GreenString("archive:"), r.Dir)
	fmt.Printf("messages: %d, downloaded: %d (%s), skipped: %d\n",
		r.Total, r.Downloaded, humanize.Bytes(uint64(r.Bytes)), r.Skipped)
	if r.Failed > 0 {
		fmt.Printf("%s %d\n", color.RedString("failed:"), r.Failed)
	}
}

func newImportCmd(a *app) *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "import <dir> <dst>",
		Short: "Replay an archive directory into a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tg, err := a.connect(ctx)
			if err != nil {
				return err
			}
			peers, err := a.peers(ctx, tg, args[1])
			if err != nil {
				return err
			}
			dst := peers[0]

			topic, err := a.resolver(tg).Resolve(ctx, dst, optionalInt(cmd, "dst-topic"))
			if err != nil {
				return fmt.Errorf("destination topic: %w", err)
			}
			if !cmd.Flags().Changed("delay") {
				delay = time.Duration(a.cfg.ImportDelaySeconds) * time.Second
			}

			imp := archive.NewImporter(tg, a.flood, a.fs, a.uploadConfig(), a.log)
			sum, err := imp.Import(ctx, args[0], dst, archive.ImportOptions{
				TopicID:     topics.ID(topic),
				StartPrefix: optionalInt(cmd, "start"),
				Delay:       delay,
				OnBlock: func(r archive.ImportResult) {
					switch r.Status {
					case archive.ImportSent:
						fmt.Fprintf(os.Stderr, "%d %s %s\n", r.Position, color.GreenString("sent"), r.File)
					case archive.ImportSkipped:
						fmt.Fprintf(os.Stderr, "%d %s\n", r.Position, color.YellowString("skipped"))
					default:
						fmt.Fprintf(os.Stderr, "%d %s %s: %v\n", r.Position, color.RedString("failed"), r.File, r.Err)
					}
				},
			})
			fmt.Printf("sent: %d, skipped: %d, failed: %d\n", sum.Sent, sum.Skipped, sum.Failed)
			return err
		},
	}
	cmd.Flags().Int("dst-topic", 0, "destination topic id or index")
	cmd.Flags().Int("start", 0, "begin at the block whose file has this sequence prefix")
	cmd.Flags().DurationVar(&delay, "delay", archive.DefaultImportDelay, "pause between sends, default IMPORT_DELAY_SECONDS")
	return cmd
}

func newRepairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <dir>",
		Short: "Relink chat.html with the files present in media/",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			rep, err := archive.Repair(a.fs, args[0], a.log)
			if err != nil {
				return err
			}
			fmt.Printf("links created: %d, previews added: %d, missing: %d\n",
				rep.LinksCreated, rep.PreviewsAdded, rep.Missing)
			return nil
		},
	}
}
