package options

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// StorageKey is the key the options document is persisted under.
const StorageKey = "options"

// KV is the local key-value store the repository persists into.
// Implemented by storage.Store.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Source tells where a resolved options document came from.
type Source string

const (
	SourceStored   Source = "stored"
	SourceDefaults Source = "defaults"
)

// Snapshot is the options document the configuration page is opened with.
type Snapshot struct {
	Doc    json.RawMessage `json:"options"`
	Source Source          `json:"source"`
}

// Repository reads and writes the single persisted options document.
type Repository struct {
	kv     KV
	logger *slog.Logger

	mu sync.Mutex
}

// NewRepository creates a Repository backed by kv.
func NewRepository(kv KV) *Repository {
	return &Repository{kv: kv, logger: slog.Default()}
}

// WithLogger sets the logger used for substitution warnings.
func (r *Repository) WithLogger(l *slog.Logger) *Repository {
	r.logger = l
	return r
}

// Resolve returns the stored document, or the variant defaults when nothing
// usable is stored. Any stored value that parses as non-null JSON is used
// verbatim, including non-object values, which are only logged.
func (r *Repository) Resolve(v Variant) (Snapshot, error) {
	r.mu.Lock()
	raw, ok, err := r.kv.Get(StorageKey)
	r.mu.Unlock()
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading stored options: %w", err)
	}

	defaults := Snapshot{Doc: v.Defaults.Document(), Source: SourceDefaults}
	if !ok {
		return defaults, nil
	}

	trimmed := bytes.TrimSpace([]byte(raw))
	if !json.Valid(trimmed) {
		r.logger.Warn("stored options are not valid JSON, using defaults", "value", raw)
		return defaults, nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return defaults, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return Snapshot{}, fmt.Errorf("compacting stored options: %w", err)
	}
	if buf.Bytes()[0] != '{' {
		r.logger.Warn("stored options are not a JSON object, using them as is", "value", buf.String())
	}
	return Snapshot{Doc: buf.Bytes(), Source: SourceStored}, nil
}

// Save replaces the stored document with doc.
func (r *Repository) Save(doc []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.kv.Set(StorageKey, string(doc)); err != nil {
		return fmt.Errorf("storing options: %w", err)
	}
	return nil
}
