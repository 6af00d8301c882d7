// Package auth implements pluggable authentication flows that populate a
// VU's session with credential material (tokens, cookies, variables) before
// a scenario's operations run.
package auth

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// Doer issues a single HTTP operation and returns its outcome. Flows use it
// for side-effect requests (login, token refresh) so that authentication
// traffic is recorded through the same path as scenario traffic.
type Doer interface {
	Do(ctx context.Context, op protocol.HTTPParams, deadline time.Time) (*protocol.Outcome, error)
}

// Flow authenticates a single VU, writing its result into the session
// store. It returns every Outcome produced by its side-effect requests so
// the caller can feed them to the metrics aggregator, exactly like any
// other scenario operation.
type Flow interface {
	Authenticate(ctx context.Context, doer Doer, store *session.Store, userID string) ([]*protocol.Outcome, error)
}

// Basic sets a static HTTP Basic Authorization header. It makes no network
// call: the credential is computed and stored directly.
type Basic struct {
	Username string
	Password string
}

func (b Basic) Authenticate(_ context.Context, _ Doer, store *session.Store, _ string) ([]*protocol.Outcome, error) {
	raw := b.Username + ":" + b.Password
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	store.SetToken("basic", session.Token{
		Value:      "Basic " + encoded,
		HeaderName: "Authorization",
	})
	return nil, nil
}

// ApiKey sets a static API-key header. No network call is made.
type ApiKey struct {
	HeaderName string
	Value      string
}

func (a ApiKey) Authenticate(_ context.Context, _ Doer, store *session.Store, _ string) ([]*protocol.Outcome, error) {
	store.SetToken("api_key", session.Token{
		Value:      a.Value,
		HeaderName: a.HeaderName,
	})
	return nil, nil
}

// Custom wraps an arbitrary authentication function, for flows that don't
// fit the built-in variants.
type Custom struct {
	Fn func(ctx context.Context, doer Doer, store *session.Store, userID string) ([]*protocol.Outcome, error)
}

func (c Custom) Authenticate(ctx context.Context, doer Doer, store *session.Store, userID string) ([]*protocol.Outcome, error) {
	return c.Fn(ctx, doer, store, userID)
}
