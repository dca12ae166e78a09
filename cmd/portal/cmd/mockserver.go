package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/patientportal/clinictest"
)

var (
	mockAddr     string
	mockBasePath string
	mockTokenTTL time.Duration
	seedName     string
	seedPhone    string
	seedPassword string
)

var mockServerCmd = &cobra.Command{
	Use:    "mock-server",
	Short:  "Run an in-memory clinic API for local development",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []clinictest.Option{clinictest.WithLogger(logger), clinictest.WithBasePath(mockBasePath)}
		if mockTokenTTL > 0 {
			opts = append(opts, clinictest.WithTokenTTL(mockTokenTTL))
		}
		srv := clinictest.New(opts...)

		if seedPhone != "" {
			if seedPassword == "" {
				return errors.New("--seed-password is required with --seed-phone")
			}
			id, err := srv.AddPatient(seedName, seedPhone, seedPassword)
			if err != nil {
				return fmt.Errorf("seeding patient: %w", err)
			}
			logger.Info("seeded patient", "patient_id", id.String(), "phone", seedPhone)
		}

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount(mockBasePath, srv.Router())

		fmt.Fprintf(cmd.OutOrStdout(), "Mock clinic API on %s%s (docs at %s/docs)\n", mockAddr, mockBasePath, mockBasePath)
		return listenAndServe(cmd.OutOrStdout(), mockAddr, r)
	},
}

func init() {
	rootCmd.AddCommand(mockServerCmd)
	addServerFlags(mockServerCmd, &mockAddr, ":5000")
	mockServerCmd.Flags().StringVar(&mockBasePath, "base-path", "/api", "Path prefix the API is mounted under")
	mockServerCmd.Flags().DurationVar(&mockTokenTTL, "token-ttl", 0, "Access token lifetime, e.g. 2m")
	mockServerCmd.Flags().StringVar(&seedName, "seed-name", "Test Patient", "Name of the seeded patient")
	mockServerCmd.Flags().StringVar(&seedPhone, "seed-phone", "", "Phone number of a patient to create at startup")
	mockServerCmd.Flags().StringVar(&seedPassword, "seed-password", "", "Password of the seeded patient")
}
