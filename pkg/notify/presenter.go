// Package notify renders connection health as a toast-style notice. It is a
// thin presenter over the status broadcaster: it consumes the broadcaster's
// public shape only and never touches the session directly.
package notify

import (
	"fmt"
	"sync"
	"time"

	"collabsync/pkg/core"
	"collabsync/pkg/status"
)

// Severity grades a notice for styling.
type Severity int

const (
	// SeverityInfo marks a recovery notice.
	SeverityInfo Severity = iota
	// SeverityWarning marks degraded connectivity (fallback transport,
	// reconnecting).
	SeverityWarning
	// SeverityError marks exhausted retries.
	SeverityError
)

// Notice is the renderable state of the connection toast.
type Notice struct {
	// Visible reports whether the toast should be shown.
	Visible bool
	// Text is the human-readable message.
	Text string
	// Severity grades the notice.
	Severity Severity
	// CanReconnect reports whether a manual reconnect action applies.
	CanReconnect bool
}

// Renderer receives notice updates; UI code supplies one.
type Renderer func(Notice)

// Presenter watches the broadcaster and drives a Renderer. A notice appears
// once connectivity degrades to the fallback transport or an error state,
// stays until dismissed, and auto-hides a fixed duration after a healthy
// connection is restored.
type Presenter struct {
	bc        *status.Broadcaster
	render    Renderer
	hideAfter time.Duration

	mu        sync.Mutex
	dismissed bool
	outage    bool
	hideTimer *time.Timer
	unsub     func()
}

// NewPresenter creates a presenter and subscribes it to the broadcaster.
// hideAfter is how long a recovery notice lingers before auto-hiding.
func NewPresenter(bc *status.Broadcaster, hideAfter time.Duration, render Renderer) *Presenter {
	if hideAfter == 0 {
		hideAfter = 5 * time.Second
	}
	p := &Presenter{
		bc:        bc,
		render:    render,
		hideAfter: hideAfter,
	}
	p.unsub = bc.Subscribe(p.onSnapshot)
	return p
}

func (p *Presenter) onSnapshot(snap status.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case snap.Status == core.StatusErrored:
		p.outage = true
		p.cancelHide()
		p.dismissed = false
		p.render(Notice{
			Visible:      true,
			Text:         "Connection lost: " + snap.Metrics.LastError,
			Severity:     SeverityError,
			CanReconnect: true,
		})

	case snap.Status == core.StatusReconnecting:
		p.outage = true
		if p.dismissed {
			return
		}
		p.cancelHide()
		p.render(Notice{
			Visible:      true,
			Text:         fmt.Sprintf("Connection interrupted, retrying (attempt %d)", snap.Metrics.ReconnectCount),
			Severity:     SeverityWarning,
			CanReconnect: true,
		})

	case snap.Status == core.StatusConnected && snap.Transport == core.TransportLongPoll:
		p.outage = true
		if p.dismissed {
			return
		}
		p.cancelHide()
		p.render(Notice{
			Visible:  true,
			Text:     "Connected in compatibility mode (long-polling)",
			Severity: SeverityWarning,
		})

	case snap.Status == core.StatusConnected:
		// A recovery notice only makes sense after an outage was surfaced;
		// the very first healthy connect stays silent.
		if !p.outage {
			return
		}
		p.outage = false
		p.dismissed = false
		p.render(Notice{
			Visible:  true,
			Text:     "Connection restored",
			Severity: SeverityInfo,
		})
		p.cancelHide()
		p.hideTimer = time.AfterFunc(p.hideAfter, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.render(Notice{})
		})
	}
}

// cancelHide stops a pending auto-hide. Callers hold p.mu.
func (p *Presenter) cancelHide() {
	if p.hideTimer != nil {
		p.hideTimer.Stop()
		p.hideTimer = nil
	}
}

// Dismiss hides the current notice until connectivity changes again.
func (p *Presenter) Dismiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed = true
	p.cancelHide()
	p.render(Notice{})
}

// Reconnect forwards the manual reconnect action to the session via the
// broadcaster.
func (p *Presenter) Reconnect() {
	p.bc.RequestReconnect()
}

// Close unsubscribes the presenter and stops its timer.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelHide()
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
}
