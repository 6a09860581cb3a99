// Package auth decides whether a chat sender may report attendance events.
// Every checker fails closed.
package auth

import (
	"context"
	"log/slog"
	"strings"

	"attendance-bot/pkg/sl"
)

type Authorizer interface {
	IsAuthorized(ctx context.Context, senderID string) bool
}

type AllowList struct {
	ids map[string]struct{}
}

func NewAllowList(ids []string) *AllowList {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &AllowList{ids: set}
}

func (a *AllowList) IsAuthorized(_ context.Context, senderID string) bool {
	if a == nil || len(a.ids) == 0 || senderID == "" {
		return false
	}
	_, ok := a.ids[senderID]
	return ok
}

type RoleSource interface {
	IsReporterAuthorized(ctx context.Context, senderID string) (bool, error)
}

// RoleLookup asks the directory whether the sender holds a reporting role.
type RoleLookup struct {
	log    *slog.Logger
	source RoleSource
}

func NewRoleLookup(log *slog.Logger, source RoleSource) *RoleLookup {
	return &RoleLookup{log: log, source: source}
}

func (r *RoleLookup) IsAuthorized(ctx context.Context, senderID string) bool {
	const op = "auth.RoleLookup.IsAuthorized"

	if r == nil || r.source == nil || senderID == "" {
		return false
	}

	ok, err := r.source.IsReporterAuthorized(ctx, senderID)
	if err != nil {
		r.log.Warn("role lookup failed, denying",
			slog.String("op", op),
			slog.String("sender_id", senderID),
			sl.Err(err),
		)
		return false
	}

	return ok
}

// AnyOf grants access if any checker grants it. No checkers means deny.
type AnyOf []Authorizer

func (a AnyOf) IsAuthorized(ctx context.Context, senderID string) bool {
	for _, c := range a {
		if c != nil && c.IsAuthorized(ctx, senderID) {
			return true
		}
	}
	return false
}
