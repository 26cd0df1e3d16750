package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ZapDesk/console"
	"ZapDesk/entity"
	"ZapDesk/internal/lib/sl"
)

const graphAPIURL = "https://graph.facebook.com/v21.0"

// Listener receives inbound transport events parsed from the webhook.
type Listener interface {
	HandleInboundMessage(msg entity.Message)
	HandleMessageUpdate(u entity.MessageUpdate)
}

// Gateway talks to the WhatsApp Graph API: outgoing sends with
// acknowledgement callbacks, and inbound webhook events.
type Gateway struct {
	log           *slog.Logger
	accessToken   string
	verifyToken   string
	appSecret     string
	phoneNumberID string
	baseURL       string
	client        *http.Client
	listener      Listener
}

// NewGateway creates a gateway instance.
func NewGateway(accessToken, verifyToken, appSecret, phoneNumberID string, log *slog.Logger) *Gateway {
	return &Gateway{
		log:           log.With(sl.Module("whatsapp.gateway")),
		accessToken:   accessToken,
		verifyToken:   verifyToken,
		appSecret:     appSecret,
		phoneNumberID: phoneNumberID,
		baseURL:       graphAPIURL,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

// SetListener sets the sink for inbound webhook events.
func (g *Gateway) SetListener(l Listener) {
	g.listener = l
}

// SendMessageRequest is the request body for sending a text message.
type SendMessageRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type sendMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send delivers a draft to the recipient and invokes ack once the
// gateway confirms (or refuses) the message. The HTTP round trip runs
// on its own goroutine so the caller never blocks on the network.
func (g *Gateway) Send(ctx context.Context, conversationID string, draft entity.Draft, ack console.AckFunc) error {
	if draft.Content == "" {
		return fmt.Errorf("empty draft")
	}
	// The Cloud API addresses individual phone numbers; a group key
	// stripped to its bare id would target the wrong recipient.
	if console.IsGroupKey(conversationID) {
		return fmt.Errorf("group conversation %s is not routable", conversationID)
	}

	reqBody := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               console.PrettyKey(conversationID),
		Type:             "text",
	}
	reqBody.Text.PreviewURL = false
	reqBody.Text.Body = draft.Content

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	go func() {
		server, err := g.doSend(ctx, conversationID, draft, jsonBody)
		if err != nil {
			g.log.Error("send failed",
				slog.String("conversation_id", conversationID),
				sl.Err(err),
			)
			ack(entity.Message{}, err)
			return
		}
		ack(server, nil)
	}()
	return nil
}

func (g *Gateway) doSend(ctx context.Context, conversationID string, draft entity.Draft, body []byte) (entity.Message, error) {
	url := fmt.Sprintf("%s/%s/messages", g.baseURL, g.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return entity.Message{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return entity.Message{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return entity.Message{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return entity.Message{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return entity.Message{}, fmt.Errorf("no message id in response")
	}

	kind := draft.Kind
	if kind == "" {
		kind = entity.KindText
	}
	return entity.Message{
		ID:             parsed.Messages[0].ID,
		ConversationID: conversationID,
		Content:        draft.Content,
		Kind:           kind,
		MediaRef:       draft.MediaRef,
		Sender:         entity.RoleAgent,
		Timestamp:      time.Now(),
		Delivery:       entity.DeliverySent,
	}, nil
}

// WebhookPayload is the inbound webhook body from WhatsApp.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Contacts         []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []webhookMessage `json:"messages"`
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"statuses"`
			} `json:"value"`
			Field string `json:"field"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image *struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	} `json:"image,omitempty"`
	Document *struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
	} `json:"document,omitempty"`
	Video *struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	} `json:"video,omitempty"`
	Audio *struct {
		ID string `json:"id"`
	} `json:"audio,omitempty"`
	Sticker *struct {
		ID string `json:"id"`
	} `json:"sticker,omitempty"`
}

// HandleWebhookVerification handles the GET request for webhook
// verification.
func (g *Gateway) HandleWebhookVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == g.verifyToken {
		g.log.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	g.log.Warn("webhook verification failed",
		slog.String("mode", mode),
		slog.Bool("token_match", token == g.verifyToken),
	)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleWebhook handles incoming webhook POST requests.
func (g *Gateway) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.log.Error("failed to read request body", sl.Err(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if g.appSecret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if !g.VerifySignature(body, signature) {
			g.log.Warn("invalid webhook signature")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		g.log.Error("failed to parse webhook payload", sl.Err(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// Always respond with 200 OK to acknowledge receipt
	w.WriteHeader(http.StatusOK)

	go g.processPayload(payload)
}

func (g *Gateway) processPayload(payload WebhookPayload) {
	if payload.Object != "whatsapp_business_account" || g.listener == nil {
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			for _, raw := range change.Value.Messages {
				msg, ok := parseMessage(raw)
				if !ok {
					continue
				}
				g.log.Info("received message",
					slog.String("conversation_id", msg.ConversationID),
					slog.String("kind", string(msg.Kind)),
				)
				g.listener.HandleInboundMessage(msg)
			}

			for _, status := range change.Value.Statuses {
				update, ok := statusUpdate(status.ID, status.Status)
				if !ok {
					continue
				}
				g.listener.HandleMessageUpdate(update)
			}
		}
	}
}

func parseMessage(raw webhookMessage) (entity.Message, bool) {
	msg := entity.Message{
		ID:             raw.ID,
		ConversationID: raw.From + "@s.whatsapp.net",
		Sender:         entity.RoleCustomer,
		Timestamp:      parseUnixTimestamp(raw.Timestamp),
		Delivery:       entity.DeliverySent,
	}

	switch raw.Type {
	case "text":
		if raw.Text == nil || raw.Text.Body == "" {
			return entity.Message{}, false
		}
		msg.Kind = entity.KindText
		msg.Content = raw.Text.Body
	case "image":
		msg.Kind = entity.KindImage
		if raw.Image != nil {
			msg.Content = raw.Image.Caption
			msg.MediaRef = raw.Image.ID
		}
	case "video":
		msg.Kind = entity.KindVideo
		if raw.Video != nil {
			msg.Content = raw.Video.Caption
			msg.MediaRef = raw.Video.ID
		}
	case "audio":
		msg.Kind = entity.KindAudio
		if raw.Audio != nil {
			msg.MediaRef = raw.Audio.ID
		}
	case "sticker":
		msg.Kind = entity.KindSticker
		if raw.Sticker != nil {
			msg.MediaRef = raw.Sticker.ID
		}
	case "document":
		msg.Kind = entity.KindFile
		if raw.Document != nil {
			msg.Content = raw.Document.Filename
			msg.MediaRef = raw.Document.ID
		}
	default:
		return entity.Message{}, false
	}
	return msg, true
}

func statusUpdate(messageID, status string) (entity.MessageUpdate, bool) {
	var delivery entity.DeliveryState
	switch status {
	case "sent", "delivered", "read":
		delivery = entity.DeliverySent
	case "failed":
		delivery = entity.DeliveryFailed
	default:
		return entity.MessageUpdate{}, false
	}
	return entity.MessageUpdate{MessageID: messageID, Delivery: &delivery}, true
}

func parseUnixTimestamp(ts string) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

// VerifySignature verifies the X-Hub-Signature-256 header.
func (g *Gateway) VerifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	// Signature format: "sha256=<hex_signature>"
	if len(signature) < 8 || signature[:7] != "sha256=" {
		return false
	}

	expectedSig := signature[7:]
	mac := hmac.New(sha256.New, []byte(g.appSecret))
	mac.Write(body)
	actualSig := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expectedSig), []byte(actualSig))
}
