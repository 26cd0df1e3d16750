package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrolledUp() Viewport {
	return Viewport{ScrollTop: 200, ScrollHeight: 5000, ClientHeight: 600}
}

func atBottom() Viewport {
	return Viewport{ScrollTop: 4400, ScrollHeight: 5000, ClientHeight: 600}
}

func TestAnchorStartsStuckToBottom(t *testing.T) {
	a := NewAnchor(80, 80)
	d := a.Decide(ChangeIncoming)
	assert.Equal(t, ScrollPinBottom, d.Mode)
}

func TestAnchorIncomingWhileReadingScrollback(t *testing.T) {
	a := NewAnchor(80, 80)
	a.ReportViewport(scrolledUp())

	d := a.Decide(ChangeIncoming)
	assert.Equal(t, ScrollNone, d.Mode)
}

func TestAnchorIncomingNearBottom(t *testing.T) {
	a := NewAnchor(80, 80)
	a.ReportViewport(atBottom())

	d := a.Decide(ChangeIncoming)
	assert.Equal(t, ScrollPinBottom, d.Mode)
}

func TestAnchorLocalSendOverridesPosition(t *testing.T) {
	a := NewAnchor(80, 80)
	a.ReportViewport(scrolledUp())
	a.NoteLocalSend()

	d := a.Decide(ChangeLocalSend)
	assert.Equal(t, ScrollPinBottom, d.Mode)
}

func TestAnchorJustSentConsumedOnce(t *testing.T) {
	a := NewAnchor(80, 80)
	a.ReportViewport(scrolledUp())
	a.NoteLocalSend()

	assert.Equal(t, ScrollPinBottom, a.Decide(ChangeIncoming).Mode)
	// The flag was consumed; the next incoming leaves the reader alone.
	assert.Equal(t, ScrollNone, a.Decide(ChangeIncoming).Mode)
}

func TestAnchorNearTopTriggersHistory(t *testing.T) {
	a := NewAnchor(80, 80)

	assert.True(t, a.ReportViewport(Viewport{ScrollTop: 40, ScrollHeight: 5000, ClientHeight: 600}))
	assert.False(t, a.ReportViewport(Viewport{ScrollTop: 400, ScrollHeight: 5000, ClientHeight: 600}))
}

func TestAnchorLoadOlderSingleFlight(t *testing.T) {
	a := NewAnchor(80, 80)
	a.ReportViewport(scrolledUp())

	require.True(t, a.BeginLoadOlder())
	assert.True(t, a.Loading())
	assert.False(t, a.BeginLoadOlder())

	a.FinishLoadOlder()
	assert.False(t, a.Loading())
	assert.True(t, a.BeginLoadOlder())
}

func TestAnchorPreserveUsesCapturedGeometry(t *testing.T) {
	a := NewAnchor(80, 80)
	a.ReportViewport(scrolledUp())
	require.True(t, a.BeginLoadOlder())

	// Geometry reported after capture must not leak into the directive.
	a.ReportViewport(Viewport{ScrollTop: 350, ScrollHeight: 5200, ClientHeight: 600})

	d := a.Decide(ChangePrepend)
	assert.Equal(t, ScrollPreserve, d.Mode)
	assert.Equal(t, 200, d.PrevScrollTop)
	assert.Equal(t, 5000, d.PrevScrollHeight)
}

func TestAnchorResetRestoresFreshState(t *testing.T) {
	a := NewAnchor(80, 80)
	a.ReportViewport(scrolledUp())
	require.True(t, a.BeginLoadOlder())

	a.Reset()

	assert.False(t, a.Loading())
	assert.Equal(t, ScrollPinBottom, a.Decide(ChangeIncoming).Mode)
	assert.True(t, a.BeginLoadOlder())
}
