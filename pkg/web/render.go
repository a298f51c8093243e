package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/autohub/pkg/observability"
)

var (
	//go:embed templates/*.html
	embeddedTemplates embed.FS

	//go:embed static
	embeddedStatic embed.FS
)

// Renderer executes the page templates. Templates found in an override
// directory replace the embedded ones of the same name and are reloaded
// when they change on disk.
type Renderer struct {
	overrideDir string
	logger      *observability.Logger

	mu    sync.RWMutex
	pages *template.Template
}

// NewRenderer parses the embedded templates and, when overrideDir is set,
// every *.html file in it
func NewRenderer(overrideDir string, logger *observability.Logger) (*Renderer, error) {
	r := &Renderer{overrideDir: overrideDir, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses all templates. On failure the previous set stays active.
func (r *Renderer) Reload() error {
	root := template.New("")

	embedded, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		return err
	}
	if err := parseTemplates(root, embedded); err != nil {
		return fmt.Errorf("failed to parse embedded templates: %w", err)
	}

	if r.overrideDir != "" {
		if err := parseTemplates(root, os.DirFS(r.overrideDir)); err != nil {
			return fmt.Errorf("failed to parse templates in %s: %w", r.overrideDir, err)
		}
	}

	r.mu.Lock()
	r.pages = root
	r.mu.Unlock()
	return nil
}

func parseTemplates(root *template.Template, dir fs.FS) error {
	return fs.WalkDir(dir, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".html") {
			return nil
		}

		contents, err := fs.ReadFile(dir, p)
		if err != nil {
			return err
		}
		_, err = root.New(p).Parse(string(contents))
		return err
	})
}

// Render executes page name ("login" renders login.html) into w with status
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data interface{}) error {
	r.mu.RLock()
	pages := r.pages
	r.mu.RUnlock()

	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name+".html", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// Watch reloads templates whenever a file in the override directory
// changes. It blocks until ctx is done.
func (r *Renderer) Watch(ctx context.Context) error {
	if r.overrideDir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.overrideDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", r.overrideDir, err)
	}

	r.logger.WithField("dir", r.overrideDir).Info("Watching template overrides")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".html" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.WithError(err).Warn("Keeping previous templates")
				continue
			}
			r.logger.WithField("file", event.Name).Info("Reloaded templates")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WithError(err).Warn("Template watcher error")
		}
	}
}

// StaticHandler serves the embedded stylesheet and images
func StaticHandler() http.Handler {
	static, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		// embedded path is fixed at build time
		panic(err)
	}
	return http.FileServer(http.FS(static))
}
