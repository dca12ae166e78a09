package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/patientportal/web"
)

var (
	serveAddr string
	tlsCert   string
	tlsKey    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		webHandler, err := web.Handler(web.WithAPIBaseURL(cfg.API.BaseURL))
		if err != nil {
			return err
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/*", webHandler)

		out := cmd.OutOrStdout()
		printBanner(out)
		fmt.Fprintf(out, "Serving portal on %s (API: %s)...\n", serveAddr, cfg.API.BaseURL)
		return listenAndServe(out, serveAddr, r)
	},
}

// listenAndServe runs handler on addr until SIGINT or SIGTERM, using TLS
// when a certificate pair was configured.
func listenAndServe(out io.Writer, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsCert != "" && tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

func addServerFlags(cmd *cobra.Command, addr *string, def string) {
	cmd.Flags().StringVar(addr, "addr", def, "Address to listen on")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServerFlags(serveCmd, &serveAddr, "")
	serveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if serveAddr == "" {
			serveAddr = cfg.Server.Addr
		}
		if tlsCert == "" && tlsKey == "" {
			tlsCert, tlsKey = cfg.Server.TLSCert, cfg.Server.TLSKey
		}
		return nil
	}
}
