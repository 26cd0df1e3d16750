package identity

import (
	"ZapDesk/internal/lib/api/response"
	"ZapDesk/internal/lib/sl"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type ResolveRequest struct {
	Key string `json:"key" validate:"required"`
}

// Resolve returns display data for an identity key, fetching through
// the enrichment cache when nothing fresh is stored.
func Resolve(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.identity")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("identity service not available")
			render.JSON(w, r, response.Error("identity service not available"))
			return
		}

		var req ResolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("failed to decode request body", sl.Err(err))
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if req.Key == "" {
			render.JSON(w, r, response.Error("key is required"))
			return
		}

		id, err := handler.ResolveIdentity(r.Context(), req.Key)
		if err != nil {
			logger.Error("resolve identity", slog.String("key", req.Key), sl.Err(err))
			render.JSON(w, r, response.Error("Failed to resolve identity"))
			return
		}
		logger.Debug("identity resolved", slog.String("key", req.Key))

		render.JSON(w, r, response.Ok(id))
	}
}
