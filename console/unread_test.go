package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZapDesk/entity"
)

type fakeUnreadStore struct {
	mu     sync.Mutex
	table  entity.UnreadTable
	readAt entity.ReadCursors
	writes int
	fail   bool
}

func (f *fakeUnreadStore) ReadState(ctx context.Context) (entity.UnreadTable, entity.ReadCursors, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := make(entity.UnreadTable, len(f.table))
	for k, v := range f.table {
		table[k] = v
	}
	readAt := make(entity.ReadCursors, len(f.readAt))
	for k, v := range f.readAt {
		readAt[k] = v
	}
	return table, readAt, nil
}

func (f *fakeUnreadStore) WriteState(ctx context.Context, table entity.UnreadTable, readAt entity.ReadCursors) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("store unavailable")
	}
	f.writes++
	f.table = table
	f.readAt = readAt
	return nil
}

func (f *fakeUnreadStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLedgerIncrementAndMarkRead(t *testing.T) {
	l := NewLedger(&fakeUnreadStore{}, testLogger())

	assert.Equal(t, 1, l.Increment("a"))
	assert.Equal(t, 2, l.Increment("a"))
	assert.Equal(t, 1, l.Increment("b"))

	l.MarkRead("a")
	assert.Equal(t, 0, l.Count("a"))
	assert.Equal(t, 1, l.Count("b"))
	assert.False(t, l.LastRead("a").IsZero())

	// Zeroed entries are dropped from the table entirely.
	assert.NotContains(t, l.Snapshot(), "a")
}

func TestLedgerReconcileTakesMax(t *testing.T) {
	l := NewLedger(&fakeUnreadStore{}, testLogger())
	newest := time.Now()

	l.Increment("a")
	l.Increment("a")

	// A lagging server count never lowers the local one.
	assert.Equal(t, 2, l.Reconcile("a", 1, newest))
	assert.Equal(t, 2, l.Count("a"))

	// A higher server count wins.
	assert.Equal(t, 5, l.Reconcile("a", 5, newest))
	assert.Equal(t, 5, l.Count("a"))
}

func TestLedgerReconcileCommutes(t *testing.T) {
	newest := time.Now()

	first := NewLedger(&fakeUnreadStore{}, testLogger())
	first.Increment("a")
	first.Increment("a")
	first.Reconcile("a", 1, newest)

	second := NewLedger(&fakeUnreadStore{}, testLogger())
	second.Reconcile("a", 1, newest)
	second.Increment("a")
	second.Increment("a")

	// Either order ends at max(local, server) = 2: the server's lagging
	// 1 must neither clobber the local 2 nor stack on top of it.
	assert.Equal(t, 2, first.Count("a"))
	assert.Equal(t, 2, second.Count("a"))
}

func TestLedgerReadFencesStaleServerCount(t *testing.T) {
	l := NewLedger(&fakeUnreadStore{}, testLogger())

	for i := 0; i < 5; i++ {
		l.Increment("a")
	}
	newest := time.Now()
	l.MarkRead("a")

	// A recount taken before the read reports the old total; nothing in
	// the chat is newer than the cursor, so the chat stays read.
	assert.Equal(t, 0, l.Reconcile("a", 5, newest))
	assert.Equal(t, 0, l.Count("a"))

	// A message arriving after the read re-opens the badge.
	assert.Equal(t, 3, l.Reconcile("a", 3, time.Now().Add(time.Second)))
}

func TestLedgerLoadRestoresCountsAndCursors(t *testing.T) {
	readAt := time.Now().Add(-time.Hour)
	store := &fakeUnreadStore{
		table:  entity.UnreadTable{"a": 3, "b": 0},
		readAt: entity.ReadCursors{"c": readAt},
	}
	l := NewLedger(store, testLogger())

	require.NoError(t, l.Load(context.Background()))
	assert.Equal(t, 3, l.Count("a"))
	assert.NotContains(t, l.Snapshot(), "b")
	assert.Equal(t, readAt, l.LastRead("c"))

	// The restored cursor keeps fencing pre-read recounts.
	assert.Equal(t, 0, l.Reconcile("c", 7, readAt.Add(-time.Minute)))
}

func TestLedgerCoalescesWrites(t *testing.T) {
	store := &fakeUnreadStore{}
	l := NewLedger(store, testLogger())
	l.flushAfter = 30 * time.Millisecond

	l.Increment("a")
	l.Increment("a")
	l.Increment("b")

	assert.Equal(t, 0, store.writeCount())

	require.Eventually(t, func() bool {
		return store.writeCount() == 1
	}, time.Second, 10*time.Millisecond)

	// No further writes while nothing changes.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, store.writeCount())
	assert.Equal(t, 2, store.table["a"])
}

func TestLedgerFlushBypassesDebounce(t *testing.T) {
	store := &fakeUnreadStore{}
	l := NewLedger(store, testLogger())

	l.Increment("a")
	l.MarkRead("b")
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 1, store.writeCount())
	assert.Contains(t, store.readAt, "b")

	// Nothing dirty: flush is a no-op.
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 1, store.writeCount())
}

func TestLedgerFlushFailureKeepsStateDirty(t *testing.T) {
	store := &fakeUnreadStore{fail: true}
	l := NewLedger(store, testLogger())

	l.Increment("a")
	require.Error(t, l.Flush(context.Background()))

	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()

	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 1, store.writeCount())
	assert.Equal(t, 1, store.table["a"])
}
