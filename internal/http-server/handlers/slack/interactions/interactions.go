package interactions

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"attendance-bot/internal/queue"
	"attendance-bot/pkg/response"
	"attendance-bot/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Payload is the JSON carried in the form field "payload" of a button
// click callback.
type Payload struct {
	Type    string   `json:"type"`
	User    Ref      `json:"user"`
	Channel Ref      `json:"channel"`
	Message Message  `json:"message"`
	Actions []Action `json:"actions"`
}

type Ref struct {
	ID string `json:"id"`
}

type Message struct {
	TS string `json:"ts"`
}

type Action struct {
	ActionID string `json:"action_id"`
	Value    string `json:"value"`
}

// New queues button clicks for the dispatcher and acknowledges at once.
// A malformed body is a 400; everything past decoding is a 200.
func New(log *slog.Logger, enqueuer Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slack.interactions.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if err := r.ParseForm(); err != nil {
			log.Warn("failed to parse form", sl.Err(err))
			badRequest(w, r)
			return
		}

		raw := r.PostForm.Get("payload")
		if raw == "" {
			log.Warn("payload is empty")
			badRequest(w, r)
			return
		}

		var p Payload
		if err := render.DecodeJSON(strings.NewReader(raw), &p); err != nil {
			log.Warn("failed to decode payload", sl.Err(err))
			badRequest(w, r)
			return
		}

		if len(p.Actions) == 0 {
			log.Debug("payload without actions", slog.String("type", p.Type))
			ack(w, r)
			return
		}

		action := p.Actions[0]

		log = log.With(
			slog.String("action_id", action.ActionID),
			slog.String("pending_id", action.Value),
			slog.String("actor_id", p.User.ID),
		)

		err := enqueuer.Enqueue(r.Context(), queue.Task{
			Kind:       queue.KindInteraction,
			ReporterID: p.User.ID,
			ChannelID:  p.Channel.ID,
			ActionID:   action.ActionID,
			PendingID:  action.Value,
			MessageRef: p.Message.TS,
			ReceivedAt: time.Now().UTC(),
		})
		if err != nil {
			log.Error("failed to enqueue interaction", sl.Err(err))
			ack(w, r)
			return
		}

		log.Info("interaction queued")
		ack(w, r)
	}
}

func badRequest(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusBadRequest)
	render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "invalid interaction payload"))
}

func ack(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.Response{})
}
