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

type PrimeRequest struct {
	Key    string `json:"key" validate:"required"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Prime stores operator-entered display data for a key, overriding
// whatever the enrichment service reported.
func Prime(log *slog.Logger, handler Core) http.HandlerFunc {
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

		var req PrimeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("failed to decode request body", sl.Err(err))
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if req.Key == "" {
			render.JSON(w, r, response.Error("key is required"))
			return
		}

		id, err := handler.PrimeIdentity(r.Context(), req.Key, req.Name, req.Avatar)
		if err != nil {
			logger.Error("prime identity", slog.String("key", req.Key), sl.Err(err))
			render.JSON(w, r, response.Error("Failed to store identity"))
			return
		}
		logger.Debug("identity primed", slog.String("key", req.Key))

		render.JSON(w, r, response.Ok(id))
	}
}
