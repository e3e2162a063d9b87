package api

import (
	"context"

	"github.com/org/sharebox/pkg/models"
)

type contextKey string

const (
	ctxKeyUser      contextKey = "user"
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyRequest   contextKey = "request_state"
)

// requestState is shared by the outer middleware and the handlers so the
// audit entry can name the user authenticated further down the chain.
type requestState struct {
	username string
}

func withUser(ctx context.Context, u *models.User) context.Context {
	if st := stateFromCtx(ctx); st != nil {
		st.username = u.Username
	}
	return context.WithValue(ctx, ctxKeyUser, u)
}

func userFromCtx(ctx context.Context) *models.User {
	u, _ := ctx.Value(ctxKeyUser).(*models.User)
	return u
}

func withRequestID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyRequest, &requestState{})
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func stateFromCtx(ctx context.Context) *requestState {
	st, _ := ctx.Value(ctxKeyRequest).(*requestState)
	return st
}
