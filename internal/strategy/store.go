// Package strategy persists per-peer investment preferences as one JSON
// document per peer. Writes are last-write-wins: peers are humans in chat,
// concurrent updates to the same document are not a realistic contention.
package strategy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	agerr "github.com/dmarzzo/defi-agent/internal/errors"
)

// Document is a free-form preference document. Well-known keys: "profile"
// (risk/horizon/experience), "allocations", "excludedProtocols", "notes".
type Document = map[string]any

type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

var unsafePeerChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func (s *Store) path(peerID string) string {
	safe := unsafePeerChars.ReplaceAllString(peerID, "_")
	if safe == "" {
		safe = "default"
	}
	return filepath.Join(s.dir, safe+".json")
}

// Get returns the peer's document, or nil when none has been saved. Absence
// is a normal state, not an error.
func (s *Store) Get(peerID string) (Document, error) {
	buf, err := os.ReadFile(s.path(peerID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, agerr.Wrap(agerr.CodeInternal, "read strategy", err)
	}
	var doc Document
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "decode strategy", err)
	}
	return doc, nil
}

// Set merges a partial update into the stored document and returns the
// result. Top-level keys merge shallowly; "profile" merges one level deep so
// updating riskTolerance keeps horizon; every other nested value, allocations
// included, is replaced wholesale. updatedAt is stamped on every write.
func (s *Store) Set(peerID string, partial Document) (Document, error) {
	// An unreadable or corrupt document counts as absent; the write replaces
	// it instead of wedging the peer.
	existing, err := s.Get(peerID)
	if err != nil {
		existing = nil
	}
	merged := merge(existing, partial)
	merged["updatedAt"] = s.now().UTC().Format(time.RFC3339)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "create strategies directory", err)
	}
	buf, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "encode strategy", err)
	}
	if err := os.WriteFile(s.path(peerID), buf, 0o644); err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "write strategy", err)
	}
	return merged, nil
}

func merge(existing, partial Document) Document {
	out := make(Document, len(existing)+len(partial))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range partial {
		if k == "profile" {
			out[k] = mergeProfile(existing[k], v)
			continue
		}
		out[k] = v
	}
	return out
}

func mergeProfile(existing, incoming any) any {
	existingMap, okE := existing.(map[string]any)
	incomingMap, okI := incoming.(map[string]any)
	if !okE || !okI {
		return incoming
	}
	out := make(map[string]any, len(existingMap)+len(incomingMap))
	for k, v := range existingMap {
		out[k] = v
	}
	for k, v := range incomingMap {
		out[k] = v
	}
	return out
}
