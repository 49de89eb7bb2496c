package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher follows the auth directory and warms the resolver cache as
// the transport writes new mapping files, so the sync tiers hit
// without re-scanning the directory.
type Watcher struct {
	resolver *Resolver
	authDir  string
	fw       *fsnotify.Watcher
}

// NewWatcher starts watching authDir and every existing session
// subdirectory. New session directories are picked up as they appear.
func NewWatcher(resolver *Resolver, authDir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := os.MkdirAll(authDir, 0o700); err != nil {
		fw.Close()
		return nil, fmt.Errorf("create auth dir: %w", err)
	}
	if err := fw.Add(authDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch auth dir: %w", err)
	}

	entries, err := os.ReadDir(authDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := fw.Add(filepath.Join(authDir, entry.Name())); err != nil {
					slog.Warn("watch session dir failed", "dir", entry.Name(), "error", err)
				}
			}
		}
	}

	return &Watcher{resolver: resolver, authDir: authDir, fw: fw}, nil
}

// Run consumes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("auth dir watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	// A new session auth dir: start watching it too.
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if filepath.Dir(ev.Name) == w.authDir {
			if err := w.fw.Add(ev.Name); err != nil {
				slog.Warn("watch session dir failed", "dir", ev.Name, "error", err)
			}
		}
		return
	}

	dir := filepath.Dir(ev.Name)
	sessionID := filepath.Base(dir)
	if filepath.Dir(dir) != w.authDir {
		return
	}

	name := filepath.Base(ev.Name)
	if !strings.HasPrefix(name, "lid-mapping-") {
		return
	}
	if lid, phone, ok := parseMappingFile(dir, name); ok {
		w.resolver.Warm(sessionID, lid, phone)
		slog.Debug("lid mapping warmed", "session", sessionID, "lid", lid)
	}
}
