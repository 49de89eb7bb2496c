// Package identity resolves privacy identifiers (LIDs) to direct phone
// JIDs. Resolution is tiered: an in-memory per-session cache, then the
// reverse-mapping files the transport writes into the session's auth
// directory, then a live query through the session's transport handle.
package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const lidSuffix = "@lid"
const phoneSuffix = "@s.whatsapp.net"

// LiveResolver is the tier-3 capability: a network query against the
// transport. Session handles implement it.
type LiveResolver interface {
	QueryIdentity(ctx context.Context, lid string) (string, error)
}

// Resolver caches LID-to-phone mappings per session. Population is
// monotonic: entries are never invalidated, and a concurrent duplicate
// write is benign because both writers store the same value.
type Resolver struct {
	authDir string

	mu       sync.RWMutex
	sessions map[string]map[string]string
	loaded   map[string]bool // auth dir scanned for this session
}

// NewResolver creates a Resolver reading mapping files under
// authDir/<sessionID>/.
func NewResolver(authDir string) *Resolver {
	return &Resolver{
		authDir:  authDir,
		sessions: make(map[string]map[string]string),
		loaded:   make(map[string]bool),
	}
}

// IsLID reports whether id is a privacy identifier.
func IsLID(id string) bool {
	return strings.Contains(id, lidSuffix)
}

// Resolve maps rawID to a direct identifier using the cache and the
// auth-dir file tier. On a total miss the rawID is returned unchanged;
// Resolve never errors. Non-LID identifiers pass through as-is.
func (r *Resolver) Resolve(sessionID, rawID string) string {
	if !IsLID(rawID) {
		return rawID
	}

	if resolved, ok := r.lookup(sessionID, rawID); ok {
		return resolved
	}

	r.loadMappings(sessionID)
	if resolved, ok := r.lookup(sessionID, rawID); ok {
		return resolved
	}

	// Individual file fallback for mappings written after the scan.
	lidNumber := digits(strings.TrimSuffix(rawID, lidSuffix))
	path := filepath.Join(r.sessionAuthDir(sessionID), "lid-mapping-"+lidNumber+"_reverse.json")
	if phone, err := readMappingFile(path); err == nil && phone != "" {
		resolved := phone + phoneSuffix
		r.put(sessionID, rawID, resolved)
		return resolved
	}

	return rawID
}

// ResolveBatch resolves a set of identifiers, falling back to live
// queries for anything the sync tiers miss. Identifiers that fail every
// tier map to themselves. live may be nil, in which case only the sync
// tiers apply.
func (r *Resolver) ResolveBatch(ctx context.Context, sessionID string, rawIDs []string, live LiveResolver) map[string]string {
	results := make(map[string]string, len(rawIDs))
	var unresolved []string

	for _, id := range rawIDs {
		resolved := r.Resolve(sessionID, id)
		if IsLID(resolved) {
			unresolved = append(unresolved, id)
		}
		results[id] = resolved
	}

	if live == nil || len(unresolved) == 0 {
		return results
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, lid := range unresolved {
		g.Go(func() error {
			resolved, err := live.QueryIdentity(gctx, lid)
			if err != nil || resolved == "" || IsLID(resolved) {
				return nil // keep the identity mapping to itself
			}
			r.put(sessionID, lid, resolved)
			mu.Lock()
			results[lid] = resolved
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}

// Warm inserts a mapping directly, used by the auth-dir watcher.
func (r *Resolver) Warm(sessionID, lid, phone string) {
	r.put(sessionID, lid+lidSuffix, phone+phoneSuffix)
	r.put(sessionID, lid, phone)
}

// Forget drops a session's cache. Called when the session is deleted.
func (r *Resolver) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	delete(r.loaded, sessionID)
}

func (r *Resolver) sessionAuthDir(sessionID string) string {
	return filepath.Join(r.authDir, sessionID)
}

func (r *Resolver) lookup(sessionID, rawID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	resolved, ok := m[rawID]
	return resolved, ok
}

func (r *Resolver) put(sessionID, rawID, resolved string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[sessionID]
	if !ok {
		m = make(map[string]string)
		r.sessions[sessionID] = m
	}
	m[rawID] = resolved
}

// loadMappings scans the session's auth dir once and warms the cache
// from every mapping file found. Reverse files (lid -> phone) win over
// forward files (phone -> lid).
func (r *Resolver) loadMappings(sessionID string) {
	r.mu.Lock()
	if r.loaded[sessionID] {
		r.mu.Unlock()
		return
	}
	r.loaded[sessionID] = true
	r.mu.Unlock()

	dir := r.sessionAuthDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Debug("auth dir not readable", "session", sessionID, "dir", dir)
		return
	}

	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if lid, phone, ok := parseMappingFile(dir, name); ok {
			if _, exists := r.lookup(sessionID, lid+lidSuffix); exists && !strings.HasSuffix(name, "_reverse.json") {
				continue
			}
			r.Warm(sessionID, lid, phone)
			count++
		}
	}
	if count > 0 {
		slog.Info("lid mappings loaded", "session", sessionID, "count", count)
	}
}

// parseMappingFile decodes one lid-mapping-* file. Reverse files are
// named lid-mapping-<lid>_reverse.json and hold the phone number;
// forward files are lid-mapping-<phone>.json and hold the lid.
func parseMappingFile(dir, name string) (lid, phone string, ok bool) {
	if !strings.HasPrefix(name, "lid-mapping-") || !strings.HasSuffix(name, ".json") {
		return "", "", false
	}
	value, err := readMappingFile(filepath.Join(dir, name))
	if err != nil || value == "" {
		return "", "", false
	}
	base := strings.TrimPrefix(name, "lid-mapping-")
	if rest, isReverse := strings.CutSuffix(base, "_reverse.json"); isReverse {
		return rest, value, true
	}
	return value, strings.TrimSuffix(base, ".json"), true
}

// readMappingFile reads a JSON-encoded string value.
func readMappingFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return "", err
	}
	return value, nil
}

func digits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
