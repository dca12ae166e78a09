package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/patientportal/clinic"
)

var appointmentsCmd = &cobra.Command{
	Use:     "appointments",
	Aliases: []string{"appts"},
	Short:   "List your clinic appointments",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		appts, err := a.ctrl.Appointments(cmd.Context())
		if err != nil {
			return err
		}
		return writeAppointments(cmd.OutOrStdout(), appts)
	},
}

func writeAppointments(w io.Writer, appts []clinic.Appointment) error {
	if len(appts) == 0 {
		_, err := fmt.Fprintln(w, "No appointments")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tDOCTOR\tDEPARTMENT\tSTATUS")
	for _, appt := range appts {
		when := "-"
		if !appt.StartsAt.IsZero() {
			when = appt.StartsAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", when, appt.Doctor, appt.Department, appt.Status)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(appointmentsCmd)
}
