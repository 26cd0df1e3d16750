package console

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ZapDesk/entity"
)

// DedupWindow is the timestamp tolerance within which two messages with
// equal content and sender are judged to describe the same event.
// Optimistic echo and push delivery are two uncorrelated observations of
// one human action, so exact-id matching is unavailable until the ack.
const DedupWindow = time.Second

// shadowWindow bounds how far apart an optimistic entry and its pushed
// echo may be and still collapse into one. Wider than DedupWindow since
// the gateway stamps the server clock, not ours.
const shadowWindow = 5 * time.Second

// Timeline owns the ordered, de-duplicated message list of one
// conversation. It is not safe for concurrent use; the owning Session
// serializes access.
type Timeline struct {
	chatID      string
	messages    []entity.Message
	dedupWindow time.Duration
	hasMore     bool
	now         func() time.Time
}

// NewTimeline creates an empty timeline for a conversation.
func NewTimeline(chatID string) *Timeline {
	return &Timeline{
		chatID:      chatID,
		dedupWindow: DedupWindow,
		hasMore:     true,
		now:         time.Now,
	}
}

// AppendOptimistic synthesizes a pending message from user-authored
// content, inserts it in sorted position and returns it. The caller
// matches the returned temporary id against the transport ack later.
func (t *Timeline) AppendOptimistic(draft entity.Draft, sender entity.SenderRole) entity.Message {
	kind := draft.Kind
	if kind == "" {
		kind = entity.KindText
	}
	msg := entity.Message{
		ID:             "temp-" + uuid.NewString(),
		ConversationID: t.chatID,
		Content:        draft.Content,
		Kind:           kind,
		MediaRef:       draft.MediaRef,
		Sender:         sender,
		Timestamp:      t.now(),
		Delivery:       entity.DeliveryPending,
	}
	t.messages = append(t.messages, msg)
	t.sortByTimestamp()
	return msg
}

// Promote replaces the temporary entry with the server-confirmed
// message. If no entry with tempID remains (already replaced by a push,
// or the ack arrived out of order) it falls back to Merge.
func (t *Timeline) Promote(tempID string, server entity.Message) bool {
	for i := range t.messages {
		if t.messages[i].ID == tempID {
			if server.Delivery == "" {
				server.Delivery = entity.DeliverySent
			}
			t.messages[i] = server
			t.sortByTimestamp()
			return true
		}
	}
	t.Merge(server)
	return false
}

// MarkFailed flips the temporary entry to the failed state. The message
// stays visible so the operator can see the failure and retry.
func (t *Timeline) MarkFailed(tempID string) bool {
	for i := range t.messages {
		if t.messages[i].ID == tempID {
			t.messages[i].Delivery = entity.DeliveryFailed
			return true
		}
	}
	return false
}

// Merge accepts a message arriving from the push channel or a page
// fetch unless an existing entry is judged equivalent. An optimistic
// shadow of the same send is replaced rather than duplicated. Reports
// whether the list changed.
func (t *Timeline) Merge(incoming entity.Message) bool {
	if incoming.ConversationID != t.chatID {
		return false
	}
	if incoming.Delivery == "" {
		incoming.Delivery = entity.DeliverySent
	}

	// Collapse the optimistic shadow first: sender roles differ between
	// the local echo and the gateway's, so only content and time match.
	for i := range t.messages {
		m := t.messages[i]
		if !m.IsOptimistic() {
			continue
		}
		if normalizeContent(m.Content) == normalizeContent(incoming.Content) &&
			absDuration(m.Timestamp.Sub(incoming.Timestamp)) <= shadowWindow {
			t.messages[i] = incoming
			t.sortByTimestamp()
			return true
		}
	}

	for _, m := range t.messages {
		if t.equivalent(m, incoming) {
			// Shown once already; dropping the duplicate is the
			// conservative side of the heuristic.
			return false
		}
	}

	t.messages = append(t.messages, incoming)
	t.sortByTimestamp()
	return true
}

// PrependHistory merges a page of older messages, deduplicating by id
// and by the equivalence rule. Returns how many entries were accepted.
func (t *Timeline) PrependHistory(older []entity.Message) int {
	known := make(map[string]struct{}, len(t.messages))
	for _, m := range t.messages {
		known[m.ID] = struct{}{}
	}

	accepted := 0
	for _, m := range older {
		if m.ConversationID != t.chatID {
			continue
		}
		if _, ok := known[m.ID]; ok {
			continue
		}
		duplicate := false
		for _, existing := range t.messages {
			if t.equivalent(existing, m) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		if m.Delivery == "" {
			m.Delivery = entity.DeliverySent
		}
		t.messages = append(t.messages, m)
		known[m.ID] = struct{}{}
		accepted++
	}
	if accepted > 0 {
		t.sortByTimestamp()
	}
	return accepted
}

// ApplyUpdate patches an already-known message in place. Matches the
// authoritative id and the temporary id alike.
func (t *Timeline) ApplyUpdate(u entity.MessageUpdate) bool {
	for i := range t.messages {
		if t.messages[i].ID != u.MessageID {
			continue
		}
		if u.Delivery != nil {
			t.messages[i].Delivery = *u.Delivery
		}
		if u.MediaRef != nil {
			t.messages[i].MediaRef = *u.MediaRef
		}
		t.sortByTimestamp()
		return true
	}
	return false
}

// Messages returns a copy of the visible list, oldest first.
func (t *Timeline) Messages() []entity.Message {
	out := make([]entity.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of visible messages.
func (t *Timeline) Len() int {
	return len(t.messages)
}

// Oldest returns the timestamp of the oldest loaded message, used as
// the cursor for history pagination.
func (t *Timeline) Oldest() (time.Time, bool) {
	if len(t.messages) == 0 {
		return time.Time{}, false
	}
	return t.messages[0].Timestamp, true
}

// HasMoreHistory reports whether an older page may still exist.
func (t *Timeline) HasMoreHistory() bool {
	return t.hasMore
}

// SetHasMoreHistory records whether the last page fetch came back full.
func (t *Timeline) SetHasMoreHistory(v bool) {
	t.hasMore = v
}

// Last returns the newest message, if any.
func (t *Timeline) Last() (entity.Message, bool) {
	if len(t.messages) == 0 {
		return entity.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

func (t *Timeline) equivalent(a, b entity.Message) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.ConversationID == b.ConversationID &&
		a.Sender == b.Sender &&
		normalizeContent(a.Content) == normalizeContent(b.Content) &&
		absDuration(a.Timestamp.Sub(b.Timestamp)) <= t.dedupWindow
}

func (t *Timeline) sortByTimestamp() {
	sort.SliceStable(t.messages, func(i, j int) bool {
		return t.messages[i].Timestamp.Before(t.messages[j].Timestamp)
	})
}

func normalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
