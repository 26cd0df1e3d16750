package chats

import (
	"ZapDesk/internal/lib/api/cont"
	"ZapDesk/internal/lib/api/response"
	"ZapDesk/internal/lib/sl"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type ReadRequest struct {
	ChatID string `json:"chat_id" validate:"required"`
}

// MarkRead zeroes a conversation's unread counter for all consoles.
func MarkRead(log *slog.Logger, handler Core) http.HandlerFunc {
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

		var req ReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("failed to decode request body", sl.Err(err))
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if req.ChatID == "" {
			render.JSON(w, r, response.Error("chat_id is required"))
			return
		}

		username := cont.GetUser(r.Context())
		handler.MarkRead(username, req.ChatID)
		logger.Debug("conversation marked read",
			slog.String("chat_id", req.ChatID),
			slog.String("user", username),
		)

		render.JSON(w, r, response.Ok("Marked read"))
	}
}
