package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/fatih/color"
	"github.com/gotd/td/session/tdesktop"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/blockedby/teleclone/internal/telegram"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		tdata string
		phone string
		qr    bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Create a session from Telegram Desktop, a QR code or a phone login",
		Long: `Authorize the account once. A Telegram Desktop session is reused when ` +
			`found; --qr shows a code to scan from a logged in device; otherwise a code ` +
			`is requested for --phone. The session is saved to TG_SESSION_FILE and ` +
			`printed as a string for TG_SESSION_STRING.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.TGApiID == 0 || a.cfg.TGApiHash == "" {
				return fmt.Errorf("TG_API_ID and TG_API_HASH are required (https://my.telegram.org)")
			}
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			if tdata == "" {
				tdata = desktopDataDir()
			}
			var (
				client *gotgproto.Client
				err    error
			)
			if qr {
				client, err = a.loginQR(cmd.Context(), in, out)
			} else if accounts, rerr := tdesktop.Read(tdata, nil); rerr == nil && len(accounts) > 0 && phone == "" {
				fmt.Fprintf(out, "found %d desktop session(s) in %s\n", len(accounts), tdata)
				client, err = a.loginDesktop(accounts, in, out)
			} else {
				if phone == "" {
					phone = a.cfg.TGPhone
				}
				if phone == "" {
					phone = prompt(in, out, "phone number with country code: ")
				}
				client, err = a.loginPhone(phone)
			}
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			defer client.Stop()

			session, err := client.ExportStringSession()
			if err != nil {
				return fmt.Errorf("export session: %w", err)
			}

			fmt.Fprintln(out, color.GreenString("logged in as @%s", client.Self.Username))
			fmt.Fprintln(out, "TG_SESSION_STRING:")
			fmt.Fprintln(out, session)
			fmt.Fprintln(out, color.YellowString("keep it secret, it grants full access to the account"))
			return nil
		},
	}
	cmd.Flags().StringVar(&tdata, "tdata", "", "Telegram Desktop tdata directory")
	cmd.Flags().StringVar(&phone, "phone", "", "log in by code for this number, default TG_PHONE")
	cmd.Flags().BoolVar(&qr, "qr", false, "log in by scanning a QR code in Settings > Devices")
	return cmd
}

func (a *app) loginDesktop(accounts []tdesktop.Account, in *bufio.Reader, out io.Writer) (*gotgproto.Client, error) {
	idx := 0
	if len(accounts) > 1 {
		ans := prompt(in, out, fmt.Sprintf("account number 1-%d [1]: ", len(accounts)))
		if n, err := strconv.Atoi(ans); err == nil && n >= 1 && n <= len(accounts) {
			idx = n - 1
		}
	}
	return gotgproto.NewClient(
		a.cfg.TGApiID,
		a.cfg.TGApiHash,
		gotgproto.ClientTypePhone(""),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.TdataSession(accounts[idx]).Name("tdata_session"),
			DisableCopyright: true,
			InMemory:         true,
		},
	)
}

// loginPhone asks the server for a code; gotgproto prompts for it on the
// terminal. The session lands in the sqlite store later runs read.
func (a *app) loginPhone(phone string) (*gotgproto.Client, error) {
	db, err := telegram.OpenSessionDB(a.cfg.TGSessionFile)
	if err != nil {
		return nil, err
	}
	return gotgproto.NewClient(
		a.cfg.TGApiID,
		a.cfg.TGApiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(db.Dialector),
			DisableCopyright: true,
		},
	)
}

// loginQR saves the scanned session to the sqlite store and reopens it
// the way later runs do.
func (a *app) loginQR(ctx context.Context, in *bufio.Reader, out io.Writer) (*gotgproto.Client, error) {
	data, err := telegram.NewQRClient(a.cfg).Login(ctx, telegram.QRLogin{
		Show: func(url string) error {
			showQR(out, url)
			return nil
		},
		Password: func() (string, error) {
			return prompt(in, out, "two-step verification password: "), nil
		},
	})
	if err != nil {
		return nil, err
	}

	db, err := telegram.OpenSessionDB(a.cfg.TGSessionFile)
	if err != nil {
		return nil, err
	}
	if err := telegram.SaveSession(db, data); err != nil {
		return nil, err
	}
	cfg := *a.cfg
	cfg.TGSessionStr = ""
	return telegram.NewPersistentClient(ctx, &cfg, db)
}

func showQR(out io.Writer, url string) {
	fmt.Fprintln(out, "scan in Telegram > Settings > Devices > Link Desktop Device:")
	qrterminal.GenerateHalfBlock(url, qrterminal.L, out)
	fmt.Fprintln(out, url)
}

func prompt(in *bufio.Reader, out io.Writer, question string) string {
	fmt.Fprint(out, question)
	ans, _ := in.ReadString('\n')
	return strings.TrimSpace(ans)
}

func desktopDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default:
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}
