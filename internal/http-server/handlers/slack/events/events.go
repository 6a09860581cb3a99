package events

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"attendance-bot/internal/lock"
	"attendance-bot/internal/queue"
	"attendance-bot/pkg/response"
	"attendance-bot/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"

	HeaderRetryNum      = "X-Retry-Num"
	headerSlackRetryNum = "X-Slack-Retry-Num"

	dedupTTL = 10 * time.Minute

	eventMessage    = "message"
	eventAppMention = "app_mention"
	channelTypeIM   = "im"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

type Deduper interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Request struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Event     *Event `json:"event,omitempty"`
}

type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	BotID   string `json:"bot_id,omitempty"`
	User    string `json:"user"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
	TS      string `json:"ts"`

	ChannelType string `json:"channel_type,omitempty"`
}

type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// New acknowledges webhook deliveries immediately and queues chat reports
// for background processing. Only internal decode failures are reported
// as errors to the platform.
func New(log *slog.Logger, enqueuer Enqueuer, deduper Deduper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slack.events.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if retry := retryNum(r); retry != "" {
			log.Info("retried delivery acknowledged without processing", slog.String("retry_num", retry))
			ack(w, r)
			return
		}

		var req Request
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Warn("failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		switch req.Type {
		case TypeURLVerification:
			log.Info("url verification challenge")
			render.JSON(w, r, ChallengeResponse{Challenge: req.Challenge})
			return
		case TypeEventCallback:
		default:
			log.Debug("ignoring envelope", slog.String("type", req.Type))
			ack(w, r)
			return
		}

		ev := req.Event
		if !reportable(ev) {
			ack(w, r)
			return
		}

		log = log.With(slog.String("event_id", req.EventID), slog.String("reporter_id", ev.User))

		if ev.BotID != "" || ev.Subtype != "" || ev.User == "" || ev.Text == "" {
			log.Debug("ignoring bot or system message", slog.String("subtype", ev.Subtype))
			ack(w, r)
			return
		}

		if req.EventID != "" && deduper != nil {
			fresh, err := deduper.Lock(r.Context(), lock.EventKey(req.EventID), dedupTTL)
			if err != nil {
				log.Warn("dedup check failed, processing anyway", sl.Err(err))
			} else if !fresh {
				log.Info("duplicate delivery ignored")
				ack(w, r)
				return
			}
		}

		err := enqueuer.Enqueue(r.Context(), queue.Task{
			Kind:       queue.KindReport,
			EventID:    req.EventID,
			ReporterID: ev.User,
			ChannelID:  ev.Channel,
			Text:       ev.Text,
			ReceivedAt: time.Now().UTC(),
		})
		if err != nil {
			log.Error("failed to enqueue report", sl.Err(err))
			ack(w, r)
			return
		}

		log.Info("report queued")
		ack(w, r)
	}
}

// reportable accepts direct messages and channel mentions. A mention in a
// channel also arrives as a plain message event, which is skipped so one
// report yields one batch.
func reportable(ev *Event) bool {
	if ev == nil {
		return false
	}

	switch ev.Type {
	case eventAppMention:
		return true
	case eventMessage:
		return ev.ChannelType == channelTypeIM
	}

	return false
}

func retryNum(r *http.Request) string {
	if v := r.Header.Get(HeaderRetryNum); v != "" {
		return v
	}
	return r.Header.Get(headerSlackRetryNum)
}

func ack(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.Response{})
}
