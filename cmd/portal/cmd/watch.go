package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmcleod/patientportal/session"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session open and report when it expires",
	Long: `Keep the stored session under the inactivity monitor until it expires
or the command is interrupted. Expiry clears the stored session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()
		if !a.ctrl.IsAuthenticated() {
			return session.ErrNotAuthenticated
		}

		expired := make(chan session.ExpiredEvent, 1)
		unsubscribe := a.ctrl.Subscribe(func(ev session.ExpiredEvent) {
			select {
			case expired <- ev:
			default:
			}
		})
		defer unsubscribe()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Watching session for %s (inactivity timeout %s)\n",
			a.ctrl.Patient().Name(), cfg.Session.InactivityTimeout)

		select {
		case ev := <-expired:
			fmt.Fprintf(out, "Session expired (%s) at %s\n", ev.Reason, ev.At.Local().Format("15:04:05"))
		case <-quit:
			fmt.Fprintln(out, "Stopped watching; session kept")
		case <-cmd.Context().Done():
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
