package console

// The console client cannot decide scroll behavior on its own: the
// server is the one that knows why the timeline changed. After every
// change the anchor controller emits a Directive telling the client
// what to do with the viewport.

// ScrollMode is the viewport action attached to a timeline change.
type ScrollMode string

const (
	// ScrollPinBottom forces the viewport to the newest message.
	ScrollPinBottom ScrollMode = "pin_bottom"
	// ScrollPreserve keeps the reading position fixed while older
	// history is prepended above it.
	ScrollPreserve ScrollMode = "preserve"
	// ScrollNone leaves the viewport untouched.
	ScrollNone ScrollMode = "none"
)

// Directive tells the client what to do with the viewport after a
// timeline change is rendered. For ScrollPreserve the client adjusts
// scrollTop by the growth in scrollHeight relative to the captured
// values.
type Directive struct {
	Mode             ScrollMode `json:"mode"`
	PrevScrollTop    int        `json:"prev_scroll_top,omitempty"`
	PrevScrollHeight int        `json:"prev_scroll_height,omitempty"`
}

// Viewport is the client-reported scroll geometry of the message list.
type Viewport struct {
	ScrollTop    int `json:"scroll_top"`
	ScrollHeight int `json:"scroll_height"`
	ClientHeight int `json:"client_height"`
}

// ChangeKind says why the timeline changed, independent of what the
// change was.
type ChangeKind int

const (
	ChangeLocalSend ChangeKind = iota
	ChangeIncoming
	ChangePrepend
	ChangeInitialLoad
)

type loadState int

const (
	loadIdle loadState = iota
	loadOlderInFlight
)

// Anchor decides scroll intent for one conversation. Each conversation
// owns its own Anchor so switching never inherits the previous chat's
// stuckness or pending-request guard. Not safe for concurrent use; the
// owning Session serializes access.
type Anchor struct {
	nearBottomPx int
	nearTopPx    int

	viewport      Viewport
	stuckToBottom bool
	justSent      bool

	state    loadState
	captured Viewport
}

// NewAnchor creates an anchor primed to stick to the bottom, the state
// every freshly-selected conversation starts in.
func NewAnchor(nearBottomPx, nearTopPx int) *Anchor {
	return &Anchor{
		nearBottomPx:  nearBottomPx,
		nearTopPx:     nearTopPx,
		stuckToBottom: true,
	}
}

// ReportViewport records the latest scroll geometry and updates
// stickiness. Returns true when the position is near the top, meaning
// the caller should consider loading older history.
func (a *Anchor) ReportViewport(v Viewport) bool {
	a.viewport = v
	a.stuckToBottom = v.ScrollHeight-v.ScrollTop-v.ClientHeight <= a.nearBottomPx
	return v.ScrollTop <= a.nearTopPx
}

// NoteLocalSend marks that the operator just sent a message, which
// forces the next directive to pin the viewport to the bottom
// regardless of the current position.
func (a *Anchor) NoteLocalSend() {
	a.justSent = true
}

// BeginLoadOlder transitions idle → loading-older and captures the
// pre-prepend geometry. A second trigger while one fetch is pending is
// ignored, not queued: returns false and the caller must not fetch.
func (a *Anchor) BeginLoadOlder() bool {
	if a.state != loadIdle {
		return false
	}
	a.state = loadOlderInFlight
	a.captured = a.viewport
	return true
}

// FinishLoadOlder returns the guard to idle once the history fetch
// settled, successfully or not.
func (a *Anchor) FinishLoadOlder() {
	a.state = loadIdle
}

// Loading reports whether a history fetch is in flight.
func (a *Anchor) Loading() bool {
	return a.state == loadOlderInFlight
}

// Decide computes the viewport action for a timeline change.
func (a *Anchor) Decide(kind ChangeKind) Directive {
	switch kind {
	case ChangePrepend:
		return Directive{
			Mode:             ScrollPreserve,
			PrevScrollTop:    a.captured.ScrollTop,
			PrevScrollHeight: a.captured.ScrollHeight,
		}
	case ChangeLocalSend, ChangeInitialLoad:
		a.justSent = false
		return Directive{Mode: ScrollPinBottom}
	default:
		if a.justSent || a.stuckToBottom {
			a.justSent = false
			return Directive{Mode: ScrollPinBottom}
		}
		// Operator is reading scrollback; new content arrives silently.
		return Directive{Mode: ScrollNone}
	}
}

// Reset restores the fresh-selection state: stick to bottom, guard
// idle. Called when the conversation becomes active.
func (a *Anchor) Reset() {
	a.stuckToBottom = true
	a.justSent = false
	a.state = loadIdle
	a.viewport = Viewport{}
	a.captured = Viewport{}
}
