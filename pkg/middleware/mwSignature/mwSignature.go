package mwSignature

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"attendance-bot/pkg/response"
	"attendance-bot/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Request-Timestamp"

	headerSlackSignature = "X-Slack-Signature"
	headerSlackTimestamp = "X-Slack-Request-Timestamp"

	maxBodyBytes = 1 << 20
)

type Verifier interface {
	Verify(signatureHeader, timestampHeader string, body []byte) bool
}

// New rejects requests whose signature does not cover the raw body. The
// body is restored for the next handler.
func New(log *slog.Logger, v Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		log := log.With(
			slog.String("component", "middleware/signature"),
		)

		fn := func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			_ = r.Body.Close()
			if err != nil || len(body) > maxBodyBytes {
				log.Warn("unreadable request body",
					slog.String("request_id", middleware.GetReqID(r.Context())),
					sl.Err(err),
				)
				reject(w, r)
				return
			}

			sig := headerOr(r, HeaderSignature, headerSlackSignature)
			ts := headerOr(r, HeaderTimestamp, headerSlackTimestamp)

			if !v.Verify(sig, ts, body) {
				log.Warn("signature rejected",
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("path", r.URL.Path),
				)
				reject(w, r)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))

			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(fn)
	}
}

func headerOr(r *http.Request, primary, fallback string) string {
	if v := r.Header.Get(primary); v != "" {
		return v
	}
	return r.Header.Get(fallback)
}

func reject(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusUnauthorized)
	render.JSON(w, r, response.Error(string(response.UNAUTHORIZED), "invalid request signature"))
}
