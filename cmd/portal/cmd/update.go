package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/patientportal/session"
)

var updateFlags profileFlags

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update your patient record",
	Long: `Update your patient record. Only the fields given as flags change;
the rest of each section is kept as it is.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		current := a.ctrl.Patient()
		if current == nil {
			return session.ErrNotAuthenticated
		}
		u := updateFlags.apply(cmd.Flags(), current)
		if u.Empty() {
			return errors.New("nothing to update; pass at least one field flag")
		}
		p, err := a.ctrl.UpdatePatient(cmd.Context(), u)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated record for %s\n", p.Name())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateFlags.register(updateCmd.Flags())
}
