package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestACLAllowsExplicitLogin(t *testing.T) {
	a := &ACL{GitHubLogins: []string{"alice", "bob"}}
	assert.True(t, a.Allows("alice", nil))
	assert.False(t, a.Allows("carol", nil))
}

func TestACLAllowsRustTeamsMember(t *testing.T) {
	a := &ACL{RustTeams: true}
	assert.True(t, a.Allows("dave", func(login string) bool { return login == "dave" }))
	assert.False(t, a.Allows("erin", func(login string) bool { return login == "dave" }))
}

func TestACLRustTeamsWithoutResolverDenies(t *testing.T) {
	a := &ACL{RustTeams: true}
	assert.False(t, a.Allows("dave", nil))
}

func TestLoadACLEmptyPath(t *testing.T) {
	a, err := LoadACL("")
	require.NoError(t, err)
	assert.False(t, a.RustTeams)
	assert.Empty(t, a.GitHubLogins)
}

func TestACLStoreReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("botAcl:\n  github: [\"alice\"]\n"), 0o644))

	initial, err := LoadACL(path)
	require.NoError(t, err)
	store := NewACLStore(path, initial)
	current := store.Current()
	assert.True(t, current.Allows("alice", nil))
	assert.False(t, current.Allows("bob", nil))

	require.NoError(t, os.WriteFile(path, []byte("botAcl:\n  github: [\"bob\"]\n"), 0o644))
	require.NoError(t, store.Reload())
	current = store.Current()
	assert.False(t, current.Allows("alice", nil))
	assert.True(t, current.Allows("bob", nil))
}

func TestACLStoreReloadKeepsPreviousOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("botAcl:\n  github: [\"alice\"]\n"), 0o644))

	initial, err := LoadACL(path)
	require.NoError(t, err)
	store := NewACLStore(path, initial)

	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))
	assert.Error(t, store.Reload())
	current := store.Current()
	assert.True(t, current.Allows("alice", nil))
}
