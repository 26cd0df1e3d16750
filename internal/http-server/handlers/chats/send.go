package chats

import (
	"ZapDesk/entity"
	"ZapDesk/internal/lib/api/cont"
	"ZapDesk/internal/lib/api/response"
	"ZapDesk/internal/lib/sl"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type SendRequest struct {
	ChatID string       `json:"chat_id" validate:"required"`
	Draft  entity.Draft `json:"draft" validate:"required"`
}

// SendMessage accepts a draft for delivery over the messaging
// transport. Delivery is asynchronous; connected consoles observe the
// acknowledged message once the gateway confirms it.
func SendMessage(log *slog.Logger, handler Core) http.HandlerFunc {
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

		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("failed to decode request body", sl.Err(err))
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid send request", sl.Err(err))
			render.JSON(w, r, response.Error("chat_id and draft content are required"))
			return
		}

		logger = logger.With(
			slog.String("chat_id", req.ChatID),
			slog.String("user", cont.GetUser(r.Context())),
		)

		if err := handler.SendMessage(r.Context(), req.ChatID, req.Draft); err != nil {
			logger.Error("send message", sl.Err(err))
			render.JSON(w, r, response.Error("Failed to send message"))
			return
		}
		logger.Debug("message accepted for delivery")

		render.JSON(w, r, response.Ok("Message accepted"))
	}
}
