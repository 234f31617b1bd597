// Package account keeps the account registry: each account owns one
// isolated browser profile directory, and at most one account is the
// default.
package account

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
)

// ImplicitID names the account used when the registry is empty.
const ImplicitID = "default"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Account is one registered identity.
type Account struct {
	ID          string    `yaml:"id" json:"id"`
	Alias       string    `yaml:"alias,omitempty" json:"alias,omitempty"`
	ProfilePath string    `yaml:"profile_path" json:"profile_path"`
	IsDefault   bool      `yaml:"default,omitempty" json:"default"`
	CreatedAt   time.Time `yaml:"created_at,omitempty" json:"created_at"`
}

// DisplayName returns the alias, or the id when no alias is set.
func (a *Account) DisplayName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.ID
}

// storageV1 is the on-disk format.
type storageV1 struct {
	Version  int        `yaml:"version"`
	Accounts []*Account `yaml:"accounts"`
}

// Store persists accounts in a YAML file. Profile directories live under
// profilesDir, one per account id.
type Store struct {
	filePath    string
	profilesDir string
	accounts    []*Account

	mu sync.RWMutex
}

// ValidateID checks an account id is usable as a profile directory name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fault.New(fault.KindValidation, "account",
			"invalid account id %q: use letters, digits, '.', '_' or '-' (max 64, starting with a letter or digit)", id)
	}
	return nil
}

// NewStore opens the registry at filePath, creating nothing until the
// first write.
func NewStore(filePath, profilesDir string) (*Store, error) {
	s := &Store{filePath: filePath, profilesDir: profilesDir}
	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// ProfilePathFor returns the profile directory an id maps to.
func (s *Store) ProfilePathFor(id string) string {
	return filepath.Join(s.profilesDir, id)
}

// Load reads the registry from disk.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	var storage storageV1
	if err := yaml.Unmarshal(data, &storage); err != nil {
		return fmt.Errorf("parse %s: %w", s.filePath, err)
	}

	seenID := make(map[string]bool)
	seenProfile := make(map[string]string)
	defaults := 0
	for _, acc := range storage.Accounts {
		if err := ValidateID(acc.ID); err != nil {
			return fmt.Errorf("%s: %w", s.filePath, err)
		}
		key := strings.ToLower(acc.ID)
		if seenID[key] {
			return fmt.Errorf("%s: duplicate account %q", s.filePath, acc.ID)
		}
		seenID[key] = true
		if acc.ProfilePath == "" {
			acc.ProfilePath = s.ProfilePathFor(acc.ID)
		}
		profile := strings.ToLower(filepath.Clean(acc.ProfilePath))
		if other, ok := seenProfile[profile]; ok {
			return fmt.Errorf("%s: accounts %q and %q share profile %s", s.filePath, other, acc.ID, acc.ProfilePath)
		}
		seenProfile[profile] = acc.ID
		if acc.IsDefault {
			defaults++
			if defaults > 1 {
				acc.IsDefault = false
			}
		}
	}
	s.accounts = storage.Accounts
	if defaults == 0 && len(s.accounts) > 0 {
		s.accounts[0].IsDefault = true
	}
	return nil
}

// Save writes the registry to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.write(s.accounts)
}

// write persists accounts. Callers assign s.accounts only after it
// succeeds, so a failed write leaves memory matching the file.
func (s *Store) write(accounts []*Account) error {
	data, err := yaml.Marshal(storageV1{Version: 1, Accounts: accounts})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return err
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

func (s *Store) indexOf(id string) int {
	for i, acc := range s.accounts {
		if strings.EqualFold(acc.ID, id) {
			return i
		}
	}
	return -1
}

// Add registers a new account and creates its profile directory. The first
// account becomes the default.
func (s *Store) Add(id, alias string) (*Account, error) {
	id = strings.TrimSpace(id)
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) >= 0 {
		return nil, fault.New(fault.KindValidation, "account", "account %q already exists", id)
	}
	acc := &Account{
		ID:          id,
		Alias:       strings.TrimSpace(alias),
		ProfilePath: s.ProfilePathFor(id),
		IsDefault:   len(s.accounts) == 0,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := os.MkdirAll(acc.ProfilePath, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	next := append(append(make([]*Account, 0, len(s.accounts)+1), s.accounts...), acc)
	if err := s.write(next); err != nil {
		return nil, err
	}
	s.accounts = next
	logging.Account("added account %s (profile %s)", id, acc.ProfilePath)
	return acc, nil
}

// Remove deletes an account. When it was the default, the first remaining
// account takes over. deleteProfile also removes the profile directory.
func (s *Store) Remove(id string, deleteProfile bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fault.New(fault.KindValidation, "account", "unknown account %q", id)
	}
	removed := s.accounts[idx]
	next := make([]*Account, 0, len(s.accounts)-1)
	next = append(next, s.accounts[:idx]...)
	next = append(next, s.accounts[idx+1:]...)
	if removed.IsDefault && len(next) > 0 {
		promoted := *next[0]
		promoted.IsDefault = true
		next[0] = &promoted
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.accounts = next
	if deleteProfile {
		if err := os.RemoveAll(removed.ProfilePath); err != nil {
			return fmt.Errorf("remove profile dir: %w", err)
		}
	}
	logging.Account("removed account %s (profile deleted: %v)", removed.ID, deleteProfile)
	return nil
}

// SetDefault marks id as the only default account.
func (s *Store) SetDefault(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fault.New(fault.KindValidation, "account", "unknown account %q", id)
	}
	next := make([]*Account, len(s.accounts))
	for i, acc := range s.accounts {
		cp := *acc
		cp.IsDefault = i == idx
		next[i] = &cp
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.accounts = next
	return nil
}

// Get returns a copy of the account, or nil.
func (s *Store) Get(id string) *Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(id); idx >= 0 {
		acc := *s.accounts[idx]
		return &acc
	}
	return nil
}

// List returns copies of all accounts, default first then by id.
func (s *Store) List() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, *acc)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Resolve maps an optional account id to an account. An empty id selects
// the default; an empty registry yields the implicit default account.
func (s *Store) Resolve(id string) (*Account, error) {
	id = strings.TrimSpace(id)
	s.mu.RLock()
	empty := len(s.accounts) == 0
	s.mu.RUnlock()

	if empty {
		if id == "" || id == ImplicitID {
			return &Account{ID: ImplicitID, ProfilePath: s.ProfilePathFor(ImplicitID), IsDefault: true}, nil
		}
		return nil, fault.New(fault.KindValidation, "account", "unknown account %q (no accounts registered)", id)
	}
	if id == "" {
		for _, acc := range s.List() {
			if acc.IsDefault {
				a := acc
				return &a, nil
			}
		}
	}
	if acc := s.Get(id); acc != nil {
		return acc, nil
	}
	return nil, fault.New(fault.KindValidation, "account", "unknown account %q", id)
}
