package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/patientportal/patient"
)

var profileJSON bool

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show your patient record as held by the clinic",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.ctrl.RefreshPatient(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if profileJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}
		writeProfile(out, p)
		return nil
	},
}

func writeProfile(w io.Writer, p *patient.Patient) {
	pd := p.PersonalDetails
	md := p.MedicalDetails
	field := func(label, v string) {
		if v == "" {
			v = "-"
		}
		fmt.Fprintf(w, "%-20s %s\n", label+":", v)
	}
	field("Patient", p.ID.String())
	field("Name", pd.Name)
	field("Phone", pd.PhoneNumber)
	field("Email", pd.Email)
	field("Date of birth", pd.DateOfBirth)
	field("City", pd.Address.City)
	field("Blood group", md.BloodGroup)
	field("Allergies", strings.Join(md.Allergies, ", "))
	field("Conditions", strings.Join(md.ChronicConditions, ", "))
	field("Medications", strings.Join(md.CurrentMedications, ", "))
	field("Emergency contact", p.EmergencyContact.Name)
	field("Language", p.Preferences.Language)
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().BoolVar(&profileJSON, "json", false, "Print the record as JSON")
}
