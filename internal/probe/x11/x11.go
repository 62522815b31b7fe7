// Package x11 reads the active window's application name and title from
// the X server via EWMH/ICCCM properties.
package x11

import (
	"fmt"
	"log/slog"

	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"

	"screentrail/internal/record"
)

// Prober queries the foreground window on demand. One prober owns one X
// connection; create one per capture loop so no connection is shared
// across goroutines.
type Prober struct {
	X *xgbutil.XUtil
}

func NewProber() (*Prober, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	// _NET_ACTIVE_WINDOW and _NET_WM_NAME need an EWMH-compliant window
	// manager; modern desktops all qualify.
	if _, err := ewmh.CurrentDesktopGet(X); err != nil {
		slog.Warn("EWMH potentially not supported by window manager", "err", err)
	}
	return &Prober{X: X}, nil
}

// Probe returns the current foreground app name and window title. An error
// means window info is unavailable this tick; the caller substitutes the
// Unknown observation.
func (p *Prober) Probe() (record.Observation, error) {
	activeWin, err := ewmh.ActiveWindowGet(p.X)
	if err != nil {
		return record.Observation{}, fmt.Errorf("could not get active window ID: %w", err)
	}
	if activeWin == 0 {
		return record.Observation{}, fmt.Errorf("no window focused")
	}

	// Window title: _NET_WM_NAME preferred, WM_NAME (ICCCM) as fallback.
	title, err := ewmh.WmNameGet(p.X, activeWin)
	if err != nil || title == "" {
		title, err = icccm.WmNameGet(p.X, activeWin)
		if err != nil || title == "" {
			title = record.UnknownTitle
		}
	}

	// Application name: WM_CLASS class field.
	appName := record.UnknownApp
	if hints, err := icccm.WmClassGet(p.X, activeWin); err == nil && hints != nil {
		appName = hints.Class
	}

	return record.Observation{AppName: appName, WindowTitle: title}, nil
}

// Close releases the X connection.
func (p *Prober) Close() {
	p.X.Conn().Close()
}
