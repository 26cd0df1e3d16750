package chats

import (
	"ZapDesk/internal/lib/api/response"
	"ZapDesk/internal/lib/sl"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const defaultPageLimit = 30

type MessagesRequest struct {
	ChatID string    `json:"chat_id" validate:"required"`
	Before time.Time `json:"before"`
	Limit  int       `json:"limit"`
}

// GetMessages returns one history page for a conversation. An empty
// before timestamp means the latest page; messages come oldest-first.
func GetMessages(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.chats")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("chat service not available")
			render.JSON(w, r, response.Error("chat service not available"))
			return
		}

		var req MessagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("failed to decode request body", sl.Err(err))
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if req.ChatID == "" {
			render.JSON(w, r, response.Error("chat_id is required"))
			return
		}
		if req.Limit <= 0 {
			req.Limit = defaultPageLimit
		}

		logger = logger.With(slog.String("chat_id", req.ChatID))

		messages, err := handler.Messages(r.Context(), req.ChatID, req.Before, req.Limit)
		if err != nil {
			logger.Error("get messages", sl.Err(err))
			render.JSON(w, r, response.Error("Failed to load messages"))
			return
		}
		logger.Debug("get messages", slog.Int("count", len(messages)))

		render.JSON(w, r, response.Ok(messages))
	}
}
