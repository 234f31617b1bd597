package browser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"xhspilot/internal/fault"
)

// Launched is what a Launcher reports about a started process.
type Launched struct {
	PID        int
	ControlURL string
}

// Launcher starts a browser process.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (*Launched, error)
}

// RodLauncher starts Chrome through rod's launcher. The process is not
// tied to ours, so it outlives the invocation and later runs reconnect.
type RodLauncher struct{}

// Launch starts Chrome with the spec's profile and debug port.
func (RodLauncher) Launch(ctx context.Context, spec Spec) (*Launched, error) {
	bin := spec.ChromeBin
	if bin == "" {
		found, ok := launcher.LookPath()
		if !ok {
			return nil, fault.New(fault.KindLaunch, "launch", "chrome executable not found; set cdp.chrome_bin or XHSPILOT_CHROME_BIN")
		}
		bin = found
	}
	if _, err := os.Stat(bin); err != nil {
		return nil, fault.Wrap(fault.KindLaunch, "launch", fmt.Errorf("chrome executable %s: %w", bin, err))
	}

	l := launcher.New().
		Context(ctx).
		Bin(bin).
		Headless(spec.Headless).
		Leakless(false).
		UserDataDir(spec.ProfilePath).
		RemoteDebuggingPort(spec.Port).
		Set(flags.Flag("no-first-run")).
		Set(flags.Flag("no-default-browser-check")).
		Delete(flags.Flag("enable-automation"))

	for _, raw := range spec.ExtraFlags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name == "" {
			continue
		}
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fault.Wrap(fault.KindLaunch, "launch", fmt.Errorf("launch chrome: %w", err))
	}
	return &Launched{PID: l.PID(), ControlURL: u}, nil
}
