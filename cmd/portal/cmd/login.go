package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var loginPhone string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with your phone number and password",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginPhone == "" {
			return errors.New("--phone is required")
		}
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
		if err != nil {
			return err
		}
		p, err := a.ctrl.Login(cmd.Context(), loginPhone, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", p.Name())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVarP(&loginPhone, "phone", "p", "", "Registered phone number")
}
