package defaults

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenNoNamespace(t *testing.T) {
	_, err := Open(Options{Dir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoNamespace)

	_, err = Open(Options{Driver: "bogus", Namespace: "x"})
	assert.Error(t, err)
}

func TestPlistPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, Namespace: "group.test"})
	require.NoError(t, err)

	got, err := s.StringSlice("names")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SetStringSlice("names", []string{"b", "a"}))
	require.NoError(t, s.Close())

	_, err = os.Stat(filepath.Join(dir, "group.test.plist"))
	require.NoError(t, err)

	reopened, err := OpenPlist(dir, "group.test")
	require.NoError(t, err)
	got, err = reopened.StringSlice("names")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, got)

	require.NoError(t, reopened.Remove("names"))
	got, err = reopened.StringSlice("names")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPlistCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ns.plist"), []byte("<plist><dict><key>"), 0644))
	_, err := OpenPlist(dir, "ns")
	assert.Error(t, err)
}

func TestPlistClosed(t *testing.T) {
	s, err := OpenPlist(t.TempDir(), "ns")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.StringSlice("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SetStringSlice("k", nil), ErrClosed)
}

func TestMemoryFailWith(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetStringSlice("k", []string{"x"}))

	boom := errors.New("boom")
	m.FailWith(boom)
	_, err := m.StringSlice("k")
	assert.ErrorIs(t, err, boom)

	m.FailWith(nil)
	got, err := m.StringSlice("k")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got)
}

func TestToStringsRejectsMixed(t *testing.T) {
	_, err := toStrings([]any{"a", 1})
	assert.Error(t, err)
	_, err = toStrings("a")
	assert.Error(t, err)
}
