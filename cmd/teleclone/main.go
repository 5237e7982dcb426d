package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	defer a.close()

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, color.YellowString("interrupted"))
			return 130
		}
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "teleclone",
		Short:         "Copy telegram conversations, archive them and move members",
		Long:          `Forward history between conversations and topics, mirror new messages, export a conversation to a browsable archive, replay an archive elsewhere and invite members across groups.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newLoginCmd(a),
		newDialogsCmd(a),
		newTopicsCmd(a),
		newForwardCmd(a),
		newMirrorCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newRepairCmd(a),
		newInviteCmd(a),
		newEventsCmd(a),
	)
	return root
}
