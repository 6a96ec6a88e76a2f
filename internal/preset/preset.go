// Package preset stores named property templates that can be applied to
// existing connections.
package preset

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/conntree/internal/model"
)

var (
	// ErrInvalidName is returned for a blank preset name.
	ErrInvalidName = errors.New("preset name must not be blank")
	// ErrNotFound is returned when no preset has the given name.
	ErrNotFound = errors.New("preset not found")
)

// Preset is a named copy of a connection's properties and inheritance
// flags. CredentialID is never captured.
type Preset struct {
	Name    string
	Props   model.Properties
	Inherit model.InheritanceFlags
}

// FromNode captures n's properties under name.
func FromNode(name string, n *model.Node) Preset {
	p := Preset{Name: strings.TrimSpace(name), Props: n.Props, Inherit: n.Inherit}
	p.Props.CredentialID = ""
	return p
}

// ApplyTo copies the preset onto n. n keeps its own CredentialID.
func (p Preset) ApplyTo(n *model.Node) {
	n.UpdateProperties(func(props *model.Properties) {
		credentialID := props.CredentialID
		*props = p.Props
		props.CredentialID = credentialID
	})
	n.Inherit = p.Inherit
}

// file is the on-disk TOML layout. Only values that differ from the
// defaults are written, and sensitive values are never written.
type file struct {
	Presets []filePreset `toml:"preset"`
}

type filePreset struct {
	Name       string            `toml:"name"`
	Inherit    []string          `toml:"inherit,omitempty"`
	Properties map[string]string `toml:"properties,omitempty"`
}

func encode(p Preset) filePreset {
	out := filePreset{Name: p.Name, Properties: map[string]string{}}
	defaults := model.DefaultProperties()
	for _, prop := range model.AllProperties() {
		if prop.Inherited(&p.Inherit) {
			out.Inherit = append(out.Inherit, prop.Name)
		}
		if prop.Sensitive || prop.Name == "CredentialId" {
			continue
		}
		if v := prop.Format(&p.Props); v != prop.Format(&defaults) {
			out.Properties[prop.Name] = v
		}
	}
	return out
}

func decode(fp filePreset) (Preset, error) {
	p := Preset{Name: strings.TrimSpace(fp.Name), Props: model.DefaultProperties()}
	for name, v := range fp.Properties {
		prop, ok := model.LookupProperty(name)
		if !ok {
			return Preset{}, fmt.Errorf("preset %q: unknown property %q", fp.Name, name)
		}
		if err := prop.Parse(&p.Props, v); err != nil {
			return Preset{}, fmt.Errorf("preset %q: %w", fp.Name, err)
		}
	}
	for _, name := range fp.Inherit {
		prop, ok := model.LookupProperty(name)
		if !ok || !prop.Inheritable() {
			return Preset{}, fmt.Errorf("preset %q: %q cannot be inherited", fp.Name, name)
		}
		prop.SetInherited(&p.Inherit, true)
	}
	return p, nil
}

// Service is the preset list backed by a TOML file. It is safe for
// concurrent use.
type Service struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	presets []Preset

	// writeMu serializes persist so the file always ends up holding the
	// latest snapshot.
	writeMu sync.Mutex
}

// NewService creates a service for path and loads it. A missing or
// unreadable file leaves the list empty; the error is logged.
func NewService(path string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{path: path, logger: logger.With("file", path)}
	if err := s.Load(); err != nil {
		s.logger.Warn("loading presets failed", "err", err)
	}
	return s
}

// Load replaces the in-memory list with the file contents.
func (s *Service) Load() error {
	var f file
	if _, err := toml.DecodeFile(s.path, &f); err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.presets = nil
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var loaded []Preset
	for _, fp := range f.Presets {
		if strings.TrimSpace(fp.Name) == "" {
			continue
		}
		p, err := decode(fp)
		if err != nil {
			return err
		}
		loaded = upsert(loaded, p)
	}
	sortPresets(loaded)

	s.mu.Lock()
	s.presets = loaded
	s.mu.Unlock()
	return nil
}

// Presets returns copies of all presets, sorted by name.
func (s *Service) Presets() []Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Preset(nil), s.presets...)
}

// Names returns the preset names, sorted case-insensitively.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.presets))
	for i, p := range s.presets {
		names[i] = p.Name
	}
	return names
}

// Get returns a copy of the named preset.
func (s *Service) Get(name string) (Preset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.presets, name)
	if i < 0 {
		return Preset{}, false
	}
	return s.presets[i], true
}

// Save captures source under name, replacing a preset whose name matches
// case-insensitively, and persists the list.
func (s *Service) Save(name string, source *model.Node) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	p := FromNode(name, source)
	s.mu.Lock()
	s.presets = upsert(s.presets, p)
	sortPresets(s.presets)
	s.mu.Unlock()
	return s.persist()
}

// Delete removes the named preset and persists the list.
func (s *Service) Delete(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	s.mu.Lock()
	i := indexOf(s.presets, name)
	if i >= 0 {
		s.presets = append(s.presets[:i], s.presets[i+1:]...)
	}
	s.mu.Unlock()
	if i < 0 {
		return ErrNotFound
	}
	return s.persist()
}

// Apply copies the named preset onto every non-root target and returns
// how many nodes were changed.
func (s *Service) Apply(name string, targets []*model.Node) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrInvalidName
	}
	p, ok := s.Get(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	applied := 0
	for _, n := range targets {
		if n == nil || n.IsRoot() {
			continue
		}
		p.ApplyTo(n)
		applied++
	}
	return applied, nil
}

func (s *Service) persist() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	f := file{Presets: make([]filePreset, len(s.presets))}
	for i, p := range s.presets {
		f.Presets[i] = encode(p)
	}
	s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create preset directory: %w", err)
	}
	out, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := out.Name()
	if err := toml.NewEncoder(out).Encode(f); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode presets: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	s.logger.Debug("saved presets", "count", len(f.Presets))
	return nil
}

func indexOf(presets []Preset, name string) int {
	for i, p := range presets {
		if strings.EqualFold(p.Name, name) {
			return i
		}
	}
	return -1
}

func upsert(presets []Preset, p Preset) []Preset {
	if i := indexOf(presets, p.Name); i >= 0 {
		presets[i] = p
		return presets
	}
	return append(presets, p)
}

func sortPresets(presets []Preset) {
	sort.SliceStable(presets, func(i, j int) bool {
		return strings.ToLower(presets[i].Name) < strings.ToLower(presets[j].Name)
	})
}
