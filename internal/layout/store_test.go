package layout

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zerolog.Nop()
	s, err := NewStore(t.TempDir(), &logger)
	require.NoError(t, err)
	return s
}

func TestNewStoreSeedsDefault(t *testing.T) {
	s := newTestStore(t)

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultName}, names)

	active, err := s.Active()
	require.NoError(t, err)
	assert.Equal(t, DefaultName, active)

	l, err := s.GetActive()
	require.NoError(t, err)
	assert.Equal(t, DefaultName, l.Name)
	assert.Contains(t, l.Elements, "chat")
}

func TestSaveBumpsVersion(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("alt", Layout{}))
	l, err := s.Get("alt")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Version)
	assert.Equal(t, "alt", l.Name)

	l.Elements = map[string]json.RawMessage{"chat": json.RawMessage(`{"x":0}`)}
	require.NoError(t, s.Save("alt", l))
	l, err = s.Get("alt")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Version)
	assert.Contains(t, l.Elements, "chat")
}

func TestDeleteRefusesActive(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("alt", Layout{}))
	require.NoError(t, s.SetActive("alt"))

	require.ErrorIs(t, s.Delete("alt"), ErrActive)

	require.NoError(t, s.SetActive(DefaultName))
	require.NoError(t, s.Delete("alt"))
	_, err := s.Get("alt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetActiveRequiresExistingLayout(t *testing.T) {
	s := newTestStore(t)
	require.ErrorIs(t, s.SetActive("missing"), ErrNotFound)
}

func TestNamesCannotEscapeDirectory(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", "../evil", "a/b", `a\b`, "with..dots"} {
		_, err := s.Get(name)
		assert.ErrorIs(t, err, ErrBadName, "name %q", name)
		assert.ErrorIs(t, s.Save(name, Layout{}), ErrBadName, "name %q", name)
	}
}

func TestActiveSurvivesReopen(t *testing.T) {
	logger := zerolog.Nop()
	dir := t.TempDir()

	s, err := NewStore(dir, &logger)
	require.NoError(t, err)
	require.NoError(t, s.Save("alt", Layout{}))
	require.NoError(t, s.SetActive("alt"))

	reopened, err := NewStore(dir, &logger)
	require.NoError(t, err)
	active, err := reopened.Active()
	require.NoError(t, err)
	assert.Equal(t, "alt", active)
}
