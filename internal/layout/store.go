package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a named layout does not exist.
	ErrNotFound = errors.New("layout not found")
	// ErrActive is returned when deleting the currently active layout.
	ErrActive = errors.New("cannot delete the active layout")
	// ErrBadName rejects names that would escape the store directory.
	ErrBadName = errors.New("invalid layout name")
)

const activePointerFile = ".active"

// Store persists one JSON document per named layout in a directory, plus
// a pointer file naming the active layout. Methods are called from the
// hub goroutine only.
type Store struct {
	dir string
	log *zerolog.Logger
}

// NewStore opens (creating if needed) the layout directory. An empty store
// is seeded with the default layout, and the active pointer is restored or
// initialized.
func NewStore(dir string, logger *zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create layouts dir: %w", err)
	}

	s := &Store{dir: dir, log: logger}

	names, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		def := Default()
		if err := s.Save(def.Name, def); err != nil {
			return nil, fmt.Errorf("seed default layout: %w", err)
		}
		logger.Info().Msg("created default layout")
	}

	if _, err := s.Active(); err != nil {
		if err := s.SetActive(s.initialActive()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// initialActive prefers "default", falling back to the first layout by
// name.
func (s *Store) initialActive() string {
	if s.Exists(DefaultName) {
		return DefaultName
	}
	names, err := s.List()
	if err != nil || len(names) == 0 {
		return DefaultName
	}
	return names[0]
}

// List returns all layout names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read layouts dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Get loads a layout by name.
func (s *Store) Get(name string) (Layout, error) {
	path, err := s.path(name)
	if err != nil {
		return Layout{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Layout{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Layout{}, fmt.Errorf("read layout %s: %w", name, err)
	}
	var l Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("parse layout %s: %w", name, err)
	}
	l.Name = name
	return l, nil
}

// Save creates or fully replaces the named layout, bumping the stored
// version.
func (s *Store) Save(name string, l Layout) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	l.Name = name
	l.Version = 1
	if existing, err := s.Get(name); err == nil {
		l.Version = existing.Version + 1
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize layout %s: %w", name, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write layout %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write layout %s: %w", name, err)
	}
	s.log.Info().Str("layout", name).Int("version", l.Version).Msg("saved layout")
	return nil
}

// Delete removes the named layout. The active layout cannot be deleted;
// switch first.
func (s *Store) Delete(name string) error {
	if active, err := s.Active(); err == nil && active == name {
		return ErrActive
	}
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete layout %s: %w", name, err)
	}
	s.log.Info().Str("layout", name).Msg("deleted layout")
	return nil
}

// Exists reports whether the named layout is stored.
func (s *Store) Exists(name string) bool {
	path, err := s.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// SetActive switches the active layout pointer. The layout must exist.
func (s *Store) SetActive(name string) error {
	if !s.Exists(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	ptr := filepath.Join(s.dir, activePointerFile)
	if err := os.WriteFile(ptr, []byte(name), 0o644); err != nil {
		return fmt.Errorf("write active pointer: %w", err)
	}
	return nil
}

// Active returns the name of the active layout.
func (s *Store) Active() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, activePointerFile))
	if err != nil {
		return "", fmt.Errorf("%w: no active layout", ErrNotFound)
	}
	name := strings.TrimSpace(string(data))
	if name == "" || !s.Exists(name) {
		return "", fmt.Errorf("%w: no active layout", ErrNotFound)
	}
	return name, nil
}

// GetActive loads the active layout document.
func (s *Store) GetActive() (Layout, error) {
	name, err := s.Active()
	if err != nil {
		return Layout{}, err
	}
	return s.Get(name)
}

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}
