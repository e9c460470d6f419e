package policy

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ACL controls who may issue operator/bot commands, spec.md §4.8/§6.
// RustTeams gates membership in the "rust-teams" GitHub team (checked by an
// external collaborator); GitHubLogins is an explicit allow-list, grounded
// on original_source/src/config.rs's BotACL{rust_teams, github}.
type ACL struct {
	RustTeams     bool     `yaml:"rustTeams"`
	GitHubLogins  []string `yaml:"github"`
}

// aclDoc is ACL's on-disk YAML file, independent of the main config
// document so reload-acl can re-read it without touching anything else.
type aclDoc struct {
	ACL ACL `yaml:"botAcl"`
}

func LoadACL(path string) (*ACL, error) {
	if path == "" {
		return &ACL{}, nil
	}
	return readACL(path)
}

func readACL(path string) (*ACL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	var doc aclDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", path, err)
	}
	return &doc.ACL, nil
}

// Allows reports whether login is authorized for operator/bot commands.
// teamMember is resolved by an external GitHub-teams collaborator (out of
// scope for the core, per spec.md §1) and only consulted when RustTeams is
// set, to avoid a network round trip for explicit-allowlist checks.
func (a *ACL) Allows(login string, teamMember func(login string) bool) bool {
	for _, allowed := range a.GitHubLogins {
		if allowed == login {
			return true
		}
	}
	if a.RustTeams && teamMember != nil {
		return teamMember(login)
	}
	return false
}

// ACLStore guards the live ACL behind a write-lock, so reload-acl can swap
// in a freshly parsed document while readers copy-on-read -- the "global
// config" design note in spec.md §9.
type ACLStore struct {
	mu   sync.RWMutex
	path string
	acl  *ACL
}

func NewACLStore(path string, initial *ACL) *ACLStore {
	return &ACLStore{path: path, acl: initial}
}

// Current returns a copy of the live ACL, safe to read without holding the
// store's lock afterward.
func (s *ACLStore) Current() ACL {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.acl
}

// Reload re-reads the ACL file from disk and swaps it in atomically. A
// parse failure leaves the previously loaded ACL in place.
func (s *ACLStore) Reload() error {
	acl, err := LoadACL(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.acl = acl
	s.mu.Unlock()
	return nil
}
