package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/solatis/meterkeeper/internal/types"
)

// Session is the persisted state of one edit session.
type Session struct {
	Kind     types.Kind
	ID       types.EntityID
	Status   types.Status
	Snapshot types.FieldValues
	Current  types.FieldValues
	Original types.FieldValues
}

type sessionWire struct {
	Kind     types.Kind      `json:"kind"`
	ID       types.EntityID  `json:"id,omitempty"`
	Status   types.Status    `json:"status"`
	Snapshot json.RawMessage `json:"snapshot"`
	Current  json.RawMessage `json:"current"`
	Original json.RawMessage `json:"original"`
}

func (s Session) MarshalJSON() ([]byte, error) {
	w := sessionWire{Kind: s.Kind, ID: s.ID, Status: s.Status}
	var err error
	for _, p := range []struct {
		dst *json.RawMessage
		src types.FieldValues
	}{{&w.Snapshot, s.Snapshot}, {&w.Current, s.Current}, {&w.Original, s.Original}} {
		if p.src == nil {
			p.src = types.FieldValues{}
		}
		if *p.dst, err = p.src.MarshalJSON(); err != nil {
			return nil, err
		}
	}
	return json.Marshal(w)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var w sessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	schema, err := types.SchemaFor(w.Kind)
	if err != nil {
		return err
	}
	status, err := types.ParseStatus(string(w.Status))
	if err != nil {
		return err
	}
	out := Session{Kind: w.Kind, ID: w.ID, Status: status}
	for _, p := range []struct {
		dst *types.FieldValues
		src json.RawMessage
	}{{&out.Snapshot, w.Snapshot}, {&out.Current, w.Current}, {&out.Original, w.Original}} {
		*p.dst = types.FieldValues{}
		if len(p.src) == 0 || string(p.src) == "null" {
			continue
		}
		if *p.dst, err = schema.Decode(p.src); err != nil {
			return err
		}
	}
	*s = out
	return nil
}

// Cache persists edit sessions across restarts. The manager treats every
// cache failure as non-fatal.
type Cache interface {
	// Load returns the session stored under key, or nil if there is none.
	Load(key string) (*Session, error)
	Save(key string, s *Session) error
	Clear(key string) error
}

// MemoryCache keeps sessions in process memory.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string][]byte)}
}

func (c *MemoryCache) Load(key string) (*Session, error) {
	c.mu.Lock()
	raw, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *MemoryCache) Save(key string, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = raw
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Clear(key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

// FileCache stores one JSON file per key under a directory.
type FileCache struct {
	dir string
}

// NewFileCache creates dir if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create draft cache dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, url.PathEscape(key)+".json")
}

func (c *FileCache) Load(key string) (*Session, error) {
	raw, err := os.ReadFile(c.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("corrupt draft cache %s: %w", key, err)
	}
	return &s, nil
}

// Save writes through a temp file so a crash never leaves a torn session.
func (c *FileCache) Save(key string, s *Session) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, ".session-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}

func (c *FileCache) Clear(key string) error {
	err := os.Remove(c.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
