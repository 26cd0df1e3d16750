package console

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ZapDesk/entity"

	"ZapDesk/internal/lib/sl"
)

// FlushDebounce is the coalescing window for unread persistence.
// Mutations inside the window collapse into a single table write.
const FlushDebounce = 500 * time.Millisecond

// Ledger tracks per-conversation unread counters and read cursors.
// The in-memory state is authoritative between writes; persistence is
// debounced and self-healing, so a failed write is simply retried by
// the next one.
type Ledger struct {
	mu     sync.Mutex
	table  entity.UnreadTable
	readAt entity.ReadCursors
	dirty  bool
	timer  *time.Timer

	store      UnreadStore
	flushAfter time.Duration
	log        *slog.Logger
}

// NewLedger creates an empty ledger backed by store.
func NewLedger(store UnreadStore, log *slog.Logger) *Ledger {
	return &Ledger{
		table:      make(entity.UnreadTable),
		readAt:     make(entity.ReadCursors),
		store:      store,
		flushAfter: FlushDebounce,
		log:        log.With(sl.Module("console.unread")),
	}
}

// Load replaces the in-memory state with the persisted one. Called
// once at startup, before any mutation.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	table, readAt, err := l.store.ReadState(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table = make(entity.UnreadTable, len(table))
	for chatID, count := range table {
		if count > 0 {
			l.table[chatID] = count
		}
	}
	l.readAt = make(entity.ReadCursors, len(readAt))
	for chatID, at := range readAt {
		l.readAt[chatID] = at
	}
	return nil
}

// Count returns the unread counter for a conversation.
func (l *Ledger) Count(chatID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table[chatID]
}

// Increment bumps the counter and returns the new value.
func (l *Ledger) Increment(chatID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table[chatID]++
	l.scheduleWriteLocked()
	return l.table[chatID]
}

// MarkRead zeroes the counter and advances the read cursor. The cursor
// is persisted with the table so server-side recounts stop at it.
func (l *Ledger) MarkRead(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.table, chatID)
	l.readAt[chatID] = time.Now()
	l.scheduleWriteLocked()
}

// LastRead returns the read cursor for a conversation, zero if the
// chat was never marked read.
func (l *Ledger) LastRead(chatID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAt[chatID]
}

// Reconcile merges the server-reported count with the local one using
// max: the local value may hold an increment the server has not seen,
// the server value messages that arrived while disconnected.
// Commutative and idempotent, so reconciliation events may arrive in
// any order. newestAt is the conversation's latest message time: a
// server count whose conversation has nothing newer than the local
// read cursor is a pre-read leftover and must not resurrect the badge.
func (l *Ledger) Reconcile(chatID string, serverCount int, newestAt time.Time) int {
	if serverCount < 0 {
		serverCount = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if read, ok := l.readAt[chatID]; ok && !newestAt.After(read) {
		serverCount = 0
	}
	if serverCount > l.table[chatID] {
		l.table[chatID] = serverCount
		l.scheduleWriteLocked()
	}
	return l.table[chatID]
}

// Snapshot returns a copy of the table.
func (l *Ledger) Snapshot() entity.UnreadTable {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Flush persists the state immediately, bypassing the coalescing
// window. Used on shutdown.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	table := l.snapshotLocked()
	cursors := l.cursorsLocked()
	l.dirty = false
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.WriteState(ctx, table, cursors); err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *Ledger) snapshotLocked() entity.UnreadTable {
	out := make(entity.UnreadTable, len(l.table))
	for chatID, count := range l.table {
		out[chatID] = count
	}
	return out
}

func (l *Ledger) cursorsLocked() entity.ReadCursors {
	out := make(entity.ReadCursors, len(l.readAt))
	for chatID, at := range l.readAt {
		out[chatID] = at
	}
	return out
}

// scheduleWriteLocked arms (or re-arms) the debounce timer. Caller
// holds l.mu.
func (l *Ledger) scheduleWriteLocked() {
	l.dirty = true
	if l.timer != nil {
		l.timer.Reset(l.flushAfter)
		return
	}
	l.timer = time.AfterFunc(l.flushAfter, l.writeNow)
}

// writeNow runs on the timer goroutine. A write failure is swallowed:
// memory stays authoritative and the next successful write carries the
// latest state.
func (l *Ledger) writeNow() {
	l.mu.Lock()
	l.timer = nil
	if !l.dirty {
		l.mu.Unlock()
		return
	}
	table := l.snapshotLocked()
	cursors := l.cursorsLocked()
	l.dirty = false
	l.mu.Unlock()

	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.WriteState(ctx, table, cursors); err != nil {
		l.log.Warn("unread table write failed", sl.Err(err))
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
	}
}
