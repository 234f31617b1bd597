// Package browser manages the local browser processes the automation
// drives: one process per debug port, each bound to one profile directory.
package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Spec describes the browser an invocation needs.
type Spec struct {
	Host        string
	Port        int
	ProfilePath string
	Headless    bool
	ChromeBin   string
	ExtraFlags  []string
}

// Instance is a running (or remote) browser bound to a debug port.
type Instance struct {
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	ProfilePath string    `json:"profile_path"`
	Headless    bool      `json:"headless"`
	PID         int       `json:"pid"`
	ControlURL  string    `json:"control_url,omitempty"`
	StartedAt   time.Time `json:"started_at"`

	// Remote instances are not managed locally.
	Remote bool `json:"-"`
	// Launched is set when this call started the process.
	Launched bool `json:"-"`
}

// Matches reports whether the instance satisfies spec without a restart.
func (i *Instance) Matches(spec Spec) bool {
	return samePath(i.ProfilePath, spec.ProfilePath) && i.Headless == spec.Headless
}

// IsLocalHost reports whether host refers to this machine.
func IsLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "", "127.0.0.1", "localhost", "::1", "[::1]":
		return true
	}
	return false
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	ca, errA := filepath.Abs(a)
	cb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ca == cb
}

// recordStore persists one instance record per port.
type recordStore struct {
	dir string
}

func (r recordStore) path(port int) string {
	return filepath.Join(r.dir, fmt.Sprintf("chrome-%d.json", port))
}

func (r recordStore) read(port int) (*Instance, error) {
	data, err := os.ReadFile(r.path(port))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		// A torn record is as good as none.
		return nil, nil
	}
	return &inst, nil
}

func (r recordStore) write(inst *Instance) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path(inst.Port) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path(inst.Port))
}

func (r recordStore) remove(port int) error {
	err := os.Remove(r.path(port))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
