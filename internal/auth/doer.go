package auth

import (
	"context"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
)

// HTTPDoer adapts any HTTP protocol driver to the Doer interface flows use
// for their side-effect requests.
type HTTPDoer struct {
	Driver   protocol.Driver
	Registry *registry.Registry
}

func (d HTTPDoer) Do(ctx context.Context, p protocol.HTTPParams, deadline time.Time) (*protocol.Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindHTTPRequest, HTTP: &p}
	return d.Driver.Execute(ctx, d.Registry, op, deadline)
}
