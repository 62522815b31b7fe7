// Package x11 captures monitor pixels from the X root window and
// enumerates display heads via the Xinerama extension.
package x11

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xgraphics"

	"screentrail/internal/grab"
)

// ListMonitors enumerates display heads. When Xinerama is unavailable or
// reports nothing, the root screen counts as a single monitor 0.
func ListMonitors() ([]grab.Monitor, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer X.Conn().Close()

	rootOnly := func() []grab.Monitor {
		s := X.Screen()
		return []grab.Monitor{{
			ID:     0,
			Width:  int(s.WidthInPixels),
			Height: int(s.HeightInPixels),
		}}
	}

	if err := xinerama.Init(X.Conn()); err != nil {
		return rootOnly(), nil
	}
	reply, err := xinerama.QueryScreens(X.Conn()).Reply()
	if err != nil || len(reply.ScreenInfo) == 0 {
		return rootOnly(), nil
	}

	ms := make([]grab.Monitor, 0, len(reply.ScreenInfo))
	for i, si := range reply.ScreenInfo {
		ms = append(ms, grab.Monitor{
			ID:     i,
			X:      int(si.XOrg),
			Y:      int(si.YOrg),
			Width:  int(si.Width),
			Height: int(si.Height),
		})
	}
	return ms, nil
}

// Grabber snapshots one monitor's rectangle of the root window. One
// grabber owns one X connection.
type Grabber struct {
	X       *xgbutil.XUtil
	monitor grab.Monitor
}

func NewGrabber(m grab.Monitor) (*Grabber, error) {
	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("invalid monitor dimensions %dx%d", m.Width, m.Height)
	}
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	return &Grabber{X: X, monitor: m}, nil
}

// Grab fetches the current display content for the grabber's monitor.
// Failures wrap grab.ErrNoFrame so the scheduler treats them as a
// no-capture tick rather than a session error.
func (g *Grabber) Grab(ctx context.Context) (*grab.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := xgraphics.NewDrawable(g.X, xproto.Drawable(g.X.RootWin()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", grab.ErrNoFrame, err)
	}

	m := g.monitor
	bounds := img.Bounds()
	if m.X < bounds.Min.X || m.Y < bounds.Min.Y ||
		m.X+m.Width > bounds.Max.X || m.Y+m.Height > bounds.Max.Y {
		return nil, fmt.Errorf("%w: monitor rect %dx%d+%d+%d outside root %v",
			grab.ErrNoFrame, m.Width, m.Height, m.X, m.Y, bounds)
	}

	frame := &grab.Frame{
		Pix:     make([]byte, m.Width*m.Height*4),
		Width:   m.Width,
		Height:  m.Height,
		TakenAt: time.Now(),
	}

	// xgraphics images are BGRA; frames are RGBA. The X server does not
	// populate alpha, so force it opaque.
	for y := 0; y < m.Height; y++ {
		src := (m.Y+y-bounds.Min.Y)*img.Stride + (m.X-bounds.Min.X)*4
		dst := y * m.Width * 4
		for x := 0; x < m.Width; x++ {
			frame.Pix[dst+x*4+0] = img.Pix[src+x*4+2]
			frame.Pix[dst+x*4+1] = img.Pix[src+x*4+1]
			frame.Pix[dst+x*4+2] = img.Pix[src+x*4+0]
			frame.Pix[dst+x*4+3] = 0xff
		}
	}
	return frame, nil
}

// Monitor returns the display head this grabber captures.
func (g *Grabber) Monitor() grab.Monitor {
	return g.monitor
}

// Close releases the X connection.
func (g *Grabber) Close() {
	g.X.Conn().Close()
}
