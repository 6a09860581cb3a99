package get

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"attendance-bot/api"
	"attendance-bot/internal/models"
	"attendance-bot/pkg/response"
	"attendance-bot/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type PendingGetter interface {
	GetPending(ctx context.Context, id string) (*models.PendingConfirmation, error)
}

type Response struct {
	response.Response
	Pending *api.PendingConfirmation `json:"pending,omitempty"`
}

func New(log *slog.Logger, getter PendingGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.pending.get.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id := chi.URLParam(r, "id")
		if id == "" {
			log.Warn("id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "id is required"))
			return
		}

		p, err := getter.GetPending(r.Context(), id)

		if errors.Is(err, response.ErrBadRequest) {
			log.Warn("malformed id", slog.String("id", id))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "id must be a uuid"))
			return
		}

		if errors.Is(err, response.ErrNotFound) {
			log.Info("pending confirmation not found", slog.String("id", id))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "pending confirmation not found"))
			return
		}

		if err != nil {
			log.Error("failed to get pending confirmation", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get pending confirmation"))
			return
		}

		render.JSON(w, r, Response{Pending: api.FromPending(p)})
	}
}
