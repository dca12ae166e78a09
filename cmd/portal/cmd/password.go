package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/patientportal/session"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change your password",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		if !a.ctrl.IsAuthenticated() {
			return session.ErrNotAuthenticated
		}

		password, err := readNewSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if err := a.ctrl.ChangePassword(cmd.Context(), password); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Password changed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passwordCmd)
}
