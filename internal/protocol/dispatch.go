package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/registry"
)

// Driver is the uniform contract implemented by each protocol driver:
// translate an Operation into an Outcome by performing the actual I/O,
// resolving or creating connections through reg as needed.
type Driver interface {
	Execute(ctx context.Context, reg *registry.Registry, op Operation, deadline time.Time) (*Outcome, error)
}

// Drivers bundles one driver instance per protocol family. A nil field
// means that protocol is unavailable; Dispatch returns an invalid_input
// outcome together with a non-nil error rather than panicking.
type Drivers struct {
	HTTP Driver
	WS   Driver
	TCP  Driver
	UDP  Driver
	MQTT Driver
	DB   Driver
}

// Dispatch routes op to the driver for its Kind via an exhaustive switch,
// never an open string-keyed lookup. Unknown kinds return a structured
// invalid_input Outcome with a nil error, so one bad operation never aborts
// a VU's scenario loop; a kind whose driver is nil returns an invalid_input
// Outcome and an error.
func (d Drivers) Dispatch(ctx context.Context, reg *registry.Registry, op Operation, deadline time.Time) (*Outcome, error) {
	var driver Driver

	switch op.Kind {
	case KindHTTPRequest:
		driver = d.HTTP
	case KindWSConnect, KindWSSend, KindWSClose:
		driver = d.WS
	case KindTCPConnect, KindTCPSend, KindTCPReceive, KindTCPDisconnect:
		driver = d.TCP
	case KindUDPCreateEndpoint, KindUDPSend, KindUDPReceive, KindUDPCloseEndpoint:
		driver = d.UDP
	case KindMQTTConnect, KindMQTTPublish, KindMQTTSubscribe, KindMQTTUnsubscribe, KindMQTTDisconnect:
		driver = d.MQTT
	case KindDBConnect, KindDBQuery, KindDBDisconnect:
		driver = d.DB
	default:
		return &Outcome{Success: false, Error: ErrInvalidInput}, nil
	}

	if driver == nil {
		return &Outcome{Success: false, Error: ErrInvalidInput}, fmt.Errorf("protocol: no driver registered for kind %q", op.Kind)
	}

	return driver.Execute(ctx, reg, op, deadline)
}
