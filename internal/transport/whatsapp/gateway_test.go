package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZapDesk/entity"
)

type recordingListener struct {
	mu       sync.Mutex
	messages []entity.Message
	updates  []entity.MessageUpdate
	done     chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{done: make(chan struct{}, 8)}
}

func (l *recordingListener) HandleInboundMessage(msg entity.Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	l.done <- struct{}{}
}

func (l *recordingListener) HandleMessageUpdate(u entity.MessageUpdate) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
	l.done <- struct{}{}
}

func (l *recordingListener) wait(t *testing.T) {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a webhook event")
	}
}

func testGateway(appSecret string) *Gateway {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway("token", "verify-token", appSecret, "10001", log)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const textPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "100",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"contacts": [{"profile": {"name": "Maria"}, "wa_id": "79001234567"}],
				"messages": [{
					"from": "79001234567",
					"id": "wamid.abc",
					"timestamp": "1700000000",
					"type": "text",
					"text": {"body": "hello"}
				}]
			}
		}]
	}]
}`

func TestVerifySignature(t *testing.T) {
	g := testGateway("secret")
	body := []byte(`{"object":"whatsapp_business_account"}`)

	assert.True(t, g.VerifySignature(body, sign("secret", body)))
	assert.False(t, g.VerifySignature(body, sign("wrong", body)))
	assert.False(t, g.VerifySignature(body, ""))
	assert.False(t, g.VerifySignature(body, "md5=abcdef"))
}

func TestWebhookVerificationChallenge(t *testing.T) {
	g := testGateway("")

	r := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-token&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	g.HandleWebhookVerification(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w = httptest.NewRecorder()
	g.HandleWebhookVerification(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	g := testGateway("secret")

	r := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(textPayload))
	r.Header.Set("X-Hub-Signature-256", sign("wrong", []byte(textPayload)))
	w := httptest.NewRecorder()
	g.HandleWebhook(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookDeliversTextMessage(t *testing.T) {
	g := testGateway("secret")
	listener := newRecordingListener()
	g.SetListener(listener)

	r := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(textPayload))
	r.Header.Set("X-Hub-Signature-256", sign("secret", []byte(textPayload)))
	w := httptest.NewRecorder()
	g.HandleWebhook(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	listener.wait(t)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Len(t, listener.messages, 1)
	msg := listener.messages[0]
	assert.Equal(t, "wamid.abc", msg.ID)
	assert.Equal(t, "79001234567@s.whatsapp.net", msg.ConversationID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, entity.KindText, msg.Kind)
	assert.Equal(t, entity.RoleCustomer, msg.Sender)
	assert.Equal(t, time.Unix(1700000000, 0), msg.Timestamp)
}

func TestWebhookDeliversStatusUpdate(t *testing.T) {
	g := testGateway("")
	listener := newRecordingListener()
	g.SetListener(listener)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "100",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"statuses": [
						{"id": "wamid.abc", "status": "delivered"},
						{"id": "wamid.def", "status": "failed"},
						{"id": "wamid.ghi", "status": "typing"}
					]
				}
			}]
		}]
	}`

	r := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(payload))
	w := httptest.NewRecorder()
	g.HandleWebhook(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	listener.wait(t)
	listener.wait(t)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Len(t, listener.updates, 2)
	assert.Equal(t, "wamid.abc", listener.updates[0].MessageID)
	assert.Equal(t, entity.DeliverySent, *listener.updates[0].Delivery)
	assert.Equal(t, "wamid.def", listener.updates[1].MessageID)
	assert.Equal(t, entity.DeliveryFailed, *listener.updates[1].Delivery)
}

func TestSendAcknowledgesServerMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/10001/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var req SendMessageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "79001234567", req.To)
		assert.Equal(t, "on our way", req.Text.Body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[{"id":"wamid.sent"}]}`))
	}))
	defer server.Close()

	g := testGateway("")
	g.baseURL = server.URL

	acked := make(chan entity.Message, 1)
	err := g.Send(context.Background(), "79001234567@s.whatsapp.net", entity.Draft{Content: "on our way"}, func(msg entity.Message, err error) {
		assert.NoError(t, err)
		acked <- msg
	})
	require.NoError(t, err)

	select {
	case msg := <-acked:
		assert.Equal(t, "wamid.sent", msg.ID)
		assert.Equal(t, "79001234567@s.whatsapp.net", msg.ConversationID)
		assert.Equal(t, entity.RoleAgent, msg.Sender)
		assert.Equal(t, entity.DeliverySent, msg.Delivery)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the ack")
	}
}

func TestSendRejectsEmptyDraft(t *testing.T) {
	g := testGateway("")
	err := g.Send(context.Background(), "79001234567@s.whatsapp.net", entity.Draft{}, func(entity.Message, error) {})
	assert.Error(t, err)
}

func TestSendRejectsGroupConversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Fail(t, "no request expected for a group conversation")
	}))
	defer server.Close()

	g := testGateway("")
	g.baseURL = server.URL

	err := g.Send(context.Background(), "120363022893478@g.us", entity.Draft{Content: "hi"}, func(entity.Message, error) {
		assert.Fail(t, "ack must not fire for a rejected send")
	})
	assert.Error(t, err)
}

func TestSendSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid token"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	g := testGateway("")
	g.baseURL = server.URL

	failed := make(chan error, 1)
	err := g.Send(context.Background(), "79001234567@s.whatsapp.net", entity.Draft{Content: "hi"}, func(msg entity.Message, err error) {
		failed <- err
	})
	require.NoError(t, err)

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the failure ack")
	}
}

func TestParseMessageKinds(t *testing.T) {
	imgID := "media-1"
	raw := webhookMessage{
		From:      "79001234567",
		ID:        "wamid.img",
		Timestamp: "1700000000",
		Type:      "image",
	}
	raw.Image = &struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	}{ID: imgID, Caption: "look"}

	msg, ok := parseMessage(raw)
	require.True(t, ok)
	assert.Equal(t, entity.KindImage, msg.Kind)
	assert.Equal(t, "look", msg.Content)
	assert.Equal(t, imgID, msg.MediaRef)

	raw.Type = "reaction"
	_, ok = parseMessage(raw)
	assert.False(t, ok)
}

func TestParseMessageRejectsEmptyText(t *testing.T) {
	raw := webhookMessage{From: "79001234567", ID: "wamid.t", Timestamp: "1700000000", Type: "text"}
	_, ok := parseMessage(raw)
	assert.False(t, ok)
}
