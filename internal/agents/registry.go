package agents

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/deepgram/agentdeck/pkg/logger"
)

var (
	ErrNotFound    = errors.New("agent not found")
	ErrDuplicate   = errors.New("duplicate agent id")
	ErrMissingID   = errors.New("agent id is required")
	ErrMissingHost = errors.New("agent host is required")
)

// snapshot is an immutable view of the registry. Writers build a new one and
// swap it in; readers never lock.
type snapshot struct {
	file   File
	agents []Agent
	index  map[string]int
}

func newSnapshot(f File, d Defaults) *snapshot {
	s := &snapshot{
		file:   File{Port: f.Port, Agents: append([]Agent(nil), f.Agents...)},
		agents: make([]Agent, len(f.Agents)),
		index:  make(map[string]int, len(f.Agents)),
	}
	for i, a := range f.Agents {
		s.agents[i] = d.apply(a)
		s.index[a.ID] = i
	}
	return s
}

// Registry holds the configured agents and writes changes back to disk.
type Registry struct {
	path     string
	format   Format
	defaults Defaults

	mu       sync.Mutex // serializes writers and file writes
	current  atomic.Pointer[snapshot]
	lastData []byte

	log zerolog.Logger
}

// New returns a registry backed only by memory. Saves are no-ops.
func New(f File, d Defaults) (*Registry, error) {
	if err := validate(f); err != nil {
		return nil, err
	}
	r := &Registry{defaults: d, log: logger.For(logger.REGISTRY)}
	r.current.Store(newSnapshot(f, d))
	return r, nil
}

// Load reads the registry at path. A missing file yields an empty registry
// that will be created on the first save.
func Load(path string, d Defaults) (*Registry, error) {
	r := &Registry{
		path:     path,
		format:   FormatFor(path),
		defaults: d,
		log:      logger.For(logger.REGISTRY).With().Str("path", path).Logger(),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.log.Warn().Msg("Agent registry file not found, starting with no agents")
		r.current.Store(newSnapshot(File{}, d))
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("read agent registry: %w", err)
	}

	f, err := Decode(r.format, data)
	if err != nil {
		return nil, err
	}
	if err := validate(f); err != nil {
		return nil, fmt.Errorf("invalid agent registry: %w", err)
	}

	r.lastData = data
	r.current.Store(newSnapshot(f, d))
	r.log.Info().Int("agent_count", len(f.Agents)).Str("format", string(r.format)).Msg("Agent registry loaded")
	return r, nil
}

// Path returns the backing file, empty for memory-only registries.
func (r *Registry) Path() string {
	return r.path
}

// Port returns the server port recorded in the registry file, 0 when unset.
func (r *Registry) Port() int {
	return r.current.Load().file.Port
}

// Get returns the agent with defaults applied.
func (r *Registry) Get(id string) (Agent, bool) {
	s := r.current.Load()
	i, ok := s.index[id]
	if !ok {
		return Agent{}, false
	}
	return s.agents[i], true
}

// List returns every agent in registry order.
func (r *Registry) List() []Agent {
	s := r.current.Load()
	out := make([]Agent, len(s.agents))
	copy(out, s.agents)
	return out
}

func (r *Registry) Len() int {
	return len(r.current.Load().agents)
}

// UpdateDisplay changes an agent's name and/or color. Empty values leave the
// field untouched. The change is applied in memory before the file is written,
// so a persistence error still leaves the update visible.
func (r *Registry) UpdateDisplay(id, name, color string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.current.Load()
	i, ok := s.index[id]
	if !ok {
		return Agent{}, ErrNotFound
	}

	f := s.file
	f.Agents = append([]Agent(nil), s.file.Agents...)
	if name != "" {
		f.Agents[i].Name = name
	}
	if color != "" {
		f.Agents[i].Color = color
	}

	next := newSnapshot(f, r.defaults)
	r.current.Store(next)

	r.log.Info().Str("agent_id", id).Str("name", next.agents[i].Name).Str("color", next.agents[i].Color).Msg("Agent display settings updated")
	return next.agents[i], r.saveLocked(f)
}

// Register adds a new agent and persists the registry.
func (r *Registry) Register(a Agent) (Agent, error) {
	a.ID = strings.TrimSpace(a.ID)
	a.Host = strings.TrimSpace(a.Host)
	if a.ID == "" {
		return Agent{}, ErrMissingID
	}
	if a.Host == "" {
		return Agent{}, ErrMissingHost
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.current.Load()
	if _, exists := s.index[a.ID]; exists {
		return Agent{}, ErrDuplicate
	}

	f := s.file
	f.Agents = append(append([]Agent(nil), s.file.Agents...), a)

	next := newSnapshot(f, r.defaults)
	r.current.Store(next)

	r.log.Info().Str("agent_id", a.ID).Str("addr", next.agents[len(next.agents)-1].Addr()).Msg("Agent registered")
	return next.agents[len(next.agents)-1], r.saveLocked(f)
}

// Reload re-reads the backing file and replaces the whole agent set.
// It reports whether anything changed.
func (r *Registry) Reload() (bool, error) {
	if r.path == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		return false, fmt.Errorf("read agent registry: %w", err)
	}
	if bytes.Equal(data, r.lastData) {
		return false, nil
	}

	f, err := Decode(r.format, data)
	if err != nil {
		return false, err
	}
	if err := validate(f); err != nil {
		return false, fmt.Errorf("invalid agent registry: %w", err)
	}

	r.lastData = data
	r.current.Store(newSnapshot(f, r.defaults))
	r.log.Info().Int("agent_count", len(f.Agents)).Msg("Agent registry reloaded")
	return true, nil
}

func (r *Registry) saveLocked(f File) error {
	if r.path == "" {
		return nil
	}

	data, err := Encode(r.format, f)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(r.path, data); err != nil {
		r.log.Error().Err(err).Msg("Failed to persist agent registry")
		return fmt.Errorf("persist agent registry: %w", err)
	}

	r.lastData = data
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	mode := fs.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
