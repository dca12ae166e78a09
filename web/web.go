// Package web serves the embedded patient portal single-page app.
package web

import (
	"embed"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed dist/*
var content embed.FS

// Option configures the handler.
type Option func(*handler)

type handler struct {
	apiBaseURL string
}

// WithAPIBaseURL injects <meta name="api-base-url"> into index.html so the
// app can find the clinic API at runtime without a rebuild.
func WithAPIBaseURL(u string) Option {
	return func(h *handler) { h.apiBaseURL = u }
}

// Handler returns an http.Handler that serves the embedded SPA assets.
// Unknown paths without a file extension are client-side routes and get
// index.html; unknown asset paths get 404.
func Handler(opts ...Option) (http.Handler, error) {
	var h handler
	for _, opt := range opts {
		opt(&h)
	}

	fsys, err := fs.Sub(content, "dist")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}
	indexBytes, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded index.html: %w", err)
	}
	if h.apiBaseURL != "" {
		tag := `<meta name="api-base-url" content="` + html.EscapeString(h.apiBaseURL) + `">`
		indexBytes = []byte(strings.Replace(string(indexBytes), "</head>", tag+"\n  </head>", 1))
	}

	static := http.FileServer(http.FS(fsys))

	serveIndex := func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(indexBytes)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleanPath := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if cleanPath == "" || cleanPath == "." || cleanPath == "index.html" {
			serveIndex(w)
			return
		}

		if _, err := fs.Stat(fsys, cleanPath); err == nil {
			static.ServeHTTP(w, r)
			return
		}
		if path.Ext(cleanPath) != "" {
			http.NotFound(w, r)
			return
		}

		// Deep-link fallback for client-side routes.
		serveIndex(w)
	}), nil
}
