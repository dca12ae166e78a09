package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusJSON bool

type statusView struct {
	State          string    `json:"state"`
	Authenticated  bool      `json:"authenticated"`
	PatientID      string    `json:"patient_id,omitempty"`
	Name           string    `json:"name,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at,omitzero"`
	Error          string    `json:"error,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether you are logged in",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		snap := a.ctrl.Snapshot()
		v := statusView{
			State:          a.ctrl.State().String(),
			Authenticated:  snap.IsAuthenticated(),
			LastActivityAt: snap.LastActivityAt,
			Error:          a.ctrl.Err(),
		}
		if snap.Patient != nil {
			v.PatientID = snap.Patient.ID.String()
			v.Name = snap.Patient.Name()
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		if !v.Authenticated {
			fmt.Fprintln(out, "Not logged in")
			if v.Error != "" {
				fmt.Fprintf(out, "  %s\n", v.Error)
			}
			return nil
		}
		fmt.Fprintf(out, "Logged in as %s (patient %s)\n", v.Name, v.PatientID)
		if !v.LastActivityAt.IsZero() {
			fmt.Fprintf(out, "  last activity %s\n", v.LastActivityAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
}
