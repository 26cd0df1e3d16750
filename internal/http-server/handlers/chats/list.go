package chats

import (
	"ZapDesk/internal/lib/api/response"
	"ZapDesk/internal/lib/sl"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const defaultListLimit = 20

func ListConversations(log *slog.Logger, handler Core) http.HandlerFunc {
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

		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		conversations, err := handler.Conversations(r.Context(), limit)
		if err != nil {
			logger.Error("list conversations", sl.Err(err))
			render.JSON(w, r, response.Error("Failed to list conversations"))
			return
		}
		logger.Debug("list conversations", slog.Int("count", len(conversations)))

		render.JSON(w, r, response.Ok(conversations))
	}
}

func UnreadCounts(log *slog.Logger, handler Core) http.HandlerFunc {
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

		render.JSON(w, r, response.Ok(handler.UnreadCounts()))
	}
}
