// Package web holds the pages of the monitoring dashboard.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
)

//go:embed dist
var dist embed.FS

// Pages returns the dashboard pages. The pages built into the binary are
// returned when dir is empty; otherwise they are read from dir on every
// request.
func Pages(dir string) (http.FileSystem, error) {
	if dir == "" {
		return builtin(), nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("web: pages: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("web: pages: %s is not a directory", dir)
	}

	return http.Dir(dir), nil
}

func builtin() http.FileSystem {
	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

// Handler serves the pages. Responses must not be cached: the dashboard of
// one execution is often reloaded against the next one on the same port.
func Handler(pages http.FileSystem) http.Handler {
	files := http.FileServer(pages)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, r)
	})
}
