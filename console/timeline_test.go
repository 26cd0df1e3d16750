package console

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZapDesk/entity"
)

const testChat = "79001234567@s.whatsapp.net"

func serverMessage(id, content string, sender entity.SenderRole, ts time.Time) entity.Message {
	return entity.Message{
		ID:             id,
		ConversationID: testChat,
		Content:        content,
		Kind:           entity.KindText,
		Sender:         sender,
		Timestamp:      ts,
		Delivery:       entity.DeliverySent,
	}
}

func TestTimelineOptimisticThenAck(t *testing.T) {
	tl := NewTimeline(testChat)

	msg := tl.AppendOptimistic(entity.Draft{Content: "hello"}, entity.RoleAgent)
	require.True(t, strings.HasPrefix(msg.ID, "temp-"))
	require.True(t, msg.IsOptimistic())
	assert.Equal(t, entity.DeliveryPending, msg.Delivery)
	require.Equal(t, 1, tl.Len())

	server := serverMessage("wamid.1", "hello", entity.RoleAgent, time.Now())
	promoted := tl.Promote(msg.ID, server)

	assert.True(t, promoted)
	require.Equal(t, 1, tl.Len())
	got, ok := tl.Last()
	require.True(t, ok)
	assert.Equal(t, "wamid.1", got.ID)
	assert.Equal(t, entity.DeliverySent, got.Delivery)
}

func TestTimelinePushEchoBeforeAck(t *testing.T) {
	tl := NewTimeline(testChat)

	msg := tl.AppendOptimistic(entity.Draft{Content: "hello"}, entity.RoleAgent)
	server := serverMessage("wamid.1", "hello", entity.RoleAgent, time.Now())

	// The push channel echoes the send before the transport ack lands:
	// the optimistic shadow collapses into the pushed message.
	require.True(t, tl.Merge(server))
	require.Equal(t, 1, tl.Len())

	// The late ack finds no temporary entry and must not duplicate.
	promoted := tl.Promote(msg.ID, server)
	assert.False(t, promoted)
	assert.Equal(t, 1, tl.Len())
}

func TestTimelineMergeDedupWindow(t *testing.T) {
	tl := NewTimeline(testChat)
	base := time.Now()

	require.True(t, tl.Merge(serverMessage("wamid.1", "ok", entity.RoleCustomer, base)))

	// Same content and sender within the tolerance: judged the same event.
	assert.False(t, tl.Merge(serverMessage("wamid.2", "ok", entity.RoleCustomer, base.Add(500*time.Millisecond))))
	assert.Equal(t, 1, tl.Len())

	// Outside the tolerance it is a genuine repeat.
	assert.True(t, tl.Merge(serverMessage("wamid.3", "ok", entity.RoleCustomer, base.Add(3*time.Second))))
	assert.Equal(t, 2, tl.Len())
}

func TestTimelineMergeNormalizesWhitespace(t *testing.T) {
	tl := NewTimeline(testChat)
	base := time.Now()

	require.True(t, tl.Merge(serverMessage("wamid.1", "hello  world", entity.RoleCustomer, base)))
	assert.False(t, tl.Merge(serverMessage("wamid.2", " hello world\n", entity.RoleCustomer, base)))
	assert.Equal(t, 1, tl.Len())
}

func TestTimelineMergeKeepsDifferentSenders(t *testing.T) {
	tl := NewTimeline(testChat)
	base := time.Now()

	require.True(t, tl.Merge(serverMessage("wamid.1", "ok", entity.RoleCustomer, base)))
	assert.True(t, tl.Merge(serverMessage("wamid.2", "ok", entity.RoleAgent, base)))
	assert.Equal(t, 2, tl.Len())
}

func TestTimelineMergeRejectsForeignConversation(t *testing.T) {
	tl := NewTimeline(testChat)
	msg := serverMessage("wamid.1", "ok", entity.RoleCustomer, time.Now())
	msg.ConversationID = "other@s.whatsapp.net"

	assert.False(t, tl.Merge(msg))
	assert.Equal(t, 0, tl.Len())
}

func TestTimelinePrependHistory(t *testing.T) {
	tl := NewTimeline(testChat)
	base := time.Now()

	require.True(t, tl.Merge(serverMessage("wamid.3", "newest", entity.RoleCustomer, base)))

	page := []entity.Message{
		serverMessage("wamid.1", "first", entity.RoleCustomer, base.Add(-2*time.Hour)),
		serverMessage("wamid.2", "second", entity.RoleAgent, base.Add(-time.Hour)),
		serverMessage("wamid.3", "newest", entity.RoleCustomer, base),
	}

	accepted := tl.PrependHistory(page)
	assert.Equal(t, 2, accepted)
	require.Equal(t, 3, tl.Len())

	msgs := tl.Messages()
	assert.Equal(t, "wamid.1", msgs[0].ID)
	assert.Equal(t, "wamid.2", msgs[1].ID)
	assert.Equal(t, "wamid.3", msgs[2].ID)

	oldest, ok := tl.Oldest()
	require.True(t, ok)
	assert.Equal(t, msgs[0].Timestamp, oldest)
}

func TestTimelinePrependIsIdempotent(t *testing.T) {
	tl := NewTimeline(testChat)
	base := time.Now()
	page := []entity.Message{
		serverMessage("wamid.1", "first", entity.RoleCustomer, base.Add(-time.Hour)),
		serverMessage("wamid.2", "second", entity.RoleAgent, base),
	}

	require.Equal(t, 2, tl.PrependHistory(page))
	assert.Equal(t, 0, tl.PrependHistory(page))
	assert.Equal(t, 2, tl.Len())
}

func TestTimelineMarkFailed(t *testing.T) {
	tl := NewTimeline(testChat)
	msg := tl.AppendOptimistic(entity.Draft{Content: "hello"}, entity.RoleAgent)

	require.True(t, tl.MarkFailed(msg.ID))
	got, ok := tl.Last()
	require.True(t, ok)
	assert.Equal(t, entity.DeliveryFailed, got.Delivery)

	// The failed entry stays visible for retry.
	assert.Equal(t, 1, tl.Len())
	assert.False(t, tl.MarkFailed("wamid.unknown"))
}

func TestTimelineApplyUpdate(t *testing.T) {
	tl := NewTimeline(testChat)
	base := time.Now()
	require.True(t, tl.Merge(serverMessage("wamid.1", "photo", entity.RoleCustomer, base)))

	delivery := entity.DeliveryFailed
	ref := "https://cdn.example.com/media/1.jpg"
	ok := tl.ApplyUpdate(entity.MessageUpdate{
		MessageID: "wamid.1",
		Delivery:  &delivery,
		MediaRef:  &ref,
	})

	require.True(t, ok)
	got, _ := tl.Last()
	assert.Equal(t, entity.DeliveryFailed, got.Delivery)
	assert.Equal(t, ref, got.MediaRef)

	assert.False(t, tl.ApplyUpdate(entity.MessageUpdate{MessageID: "wamid.unknown"}))
}

func TestTimelineKeepsSortOrder(t *testing.T) {
	tl := NewTimeline(testChat)
	base := time.Now()

	tl.Merge(serverMessage("wamid.2", "b", entity.RoleCustomer, base))
	tl.Merge(serverMessage("wamid.1", "a", entity.RoleCustomer, base.Add(-time.Minute)))
	tl.Merge(serverMessage("wamid.3", "c", entity.RoleCustomer, base.Add(time.Minute)))

	msgs := tl.Messages()
	require.Equal(t, 3, len(msgs))
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp))
	}
}
