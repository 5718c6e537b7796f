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
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var embedded embed.FS

const (
	layoutFile     = "layout.html"
	reloadDebounce = 500 * time.Millisecond
)

// Templates renders pages. Each page file defines "content" and is parsed
// together with layout.html.
type Templates struct {
	fsys   fs.FS
	logger *zap.Logger

	mu    sync.RWMutex
	pages map[string]*template.Template
}

// NewTemplates loads templates from dir, or from the embedded set when dir is empty.
func NewTemplates(dir string, logger *zap.Logger) (*Templates, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			return nil, err
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}
	t := &Templates{fsys: fsys, logger: logger}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Templates) load() error {
	base, err := template.ParseFS(t.fsys, layoutFile)
	if err != nil {
		return fmt.Errorf("parse layout: %w", err)
	}
	names, err := fs.Glob(t.fsys, "*.html")
	if err != nil {
		return err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		if name == layoutFile {
			continue
		}
		clone, err := base.Clone()
		if err != nil {
			return err
		}
		page, err := clone.ParseFS(t.fsys, name)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		pages[strings.TrimSuffix(name, path.Ext(name))] = page
	}
	t.mu.Lock()
	t.pages = pages
	t.mu.Unlock()
	return nil
}

// Render writes page name with status. Rendering goes to a buffer first so a
// template error still produces a clean 500.
func (t *Templates) Render(w http.ResponseWriter, status int, name string, data any) {
	t.mu.RLock()
	page, ok := t.pages[name]
	t.mu.RUnlock()
	if !ok {
		t.logger.Error("unknown template", zap.String("template", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := page.ExecuteTemplate(&buf, "layout", data); err != nil {
		t.logger.Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Watch reloads templates from dir whenever a file in it changes, until ctx is done.
// Bursts of changes trigger one reload. A failed reload keeps the previous set.
func (t *Templates) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	reload := make(chan struct{}, 1)
	go t.scheduleReload(ctx, reload)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create | fsnotify.Rename) {
					select {
					case reload <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Warn("template watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (t *Templates) scheduleReload(ctx context.Context, reload <-chan struct{}) {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-reload:
			if timer != nil {
				timer.Reset(reloadDebounce)
			} else {
				timer = time.NewTimer(reloadDebounce)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			if err := t.load(); err != nil {
				t.logger.Error("reload templates", zap.Error(err))
				continue
			}
			t.logger.Info("reloaded templates")
		}
	}
}
