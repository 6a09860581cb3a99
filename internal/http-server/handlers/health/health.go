package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"attendance-bot/pkg/response"
	"attendance-bot/pkg/sl"

	"github.com/go-chi/render"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Response struct {
	response.Response
	Status string `json:"status"`
}

func New(log *slog.Logger, pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.health.New"

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			log.Error("storage ping failed", slog.String("op", op), sl.Err(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			render.JSON(w, r, Response{
				Response: response.Error(string(response.FAILED_REQUEST), "storage unavailable"),
				Status:   "unavailable",
			})
			return
		}

		render.JSON(w, r, Response{Status: "ok"})
	}
}
