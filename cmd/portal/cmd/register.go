package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/patientportal/clinic"
	"github.com/jmcleod/patientportal/patient"
)

var registerFlags profileFlags

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a patient account and log in",
	RunE: func(cmd *cobra.Command, args []string) error {
		if registerFlags.name == "" || registerFlags.phone == "" {
			return errors.New("--name and --phone are required")
		}
		reg := registration(cmd, &registerFlags)

		password, err := readNewSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		reg.Password = password

		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.ctrl.Register(cmd.Context(), reg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered and logged in as %s (patient %s)\n", p.Name(), p.ID)
		return nil
	},
}

func registration(cmd *cobra.Command, f *profileFlags) clinic.Registration {
	var base patient.Patient
	u := f.apply(cmd.Flags(), &base)
	var reg clinic.Registration
	if u.PersonalDetails != nil {
		reg.PersonalDetails = *u.PersonalDetails
	}
	if u.MedicalDetails != nil {
		reg.MedicalDetails = *u.MedicalDetails
	}
	if u.EmergencyContact != nil {
		reg.EmergencyContact = *u.EmergencyContact
	}
	if u.Preferences != nil {
		reg.Preferences = *u.Preferences
	}
	return reg
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerFlags.register(registerCmd.Flags())
}
