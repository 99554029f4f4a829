package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xexd/xexd/pkg/log"
	"github.com/xexd/xexd/types"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	readTimeout      = 2 * time.Minute
	handshakeTimeout = 15 * time.Second
)

// eventEnvelope is the wire frame the coordinator event stream emits: a kind
// discriminator plus the kind-specific payload.
type eventEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// CircuitListener subscribes to the coordinator chain's event stream over
// websocket and republishes decoded events on a channel. It reconnects with
// exponential backoff; events missed during an outage are not replayed here,
// the coordinator remains the source of truth for status.
type CircuitListener struct {
	url    string
	logger log.Logger
	events chan types.CircuitEvent
}

func NewCircuitListener(url string, logger log.Logger) *CircuitListener {
	return &CircuitListener{
		url:    url,
		logger: logger,
		events: make(chan types.CircuitEvent, 128),
	}
}

// Events returns the stream of decoded coordinator events.
func (l *CircuitListener) Events() <-chan types.CircuitEvent {
	return l.events
}

// Run connects and reads until the context is cancelled. Connection loss is
// not fatal; the listener backs off and dials again.
func (l *CircuitListener) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if err := l.readLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("coordinator stream disconnected", "error", err, "retryIn", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *CircuitListener) readLoop(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.url, err)
	}
	defer conn.Close()

	// unblock the blocking read when the context ends
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	l.logger.Info("connected to coordinator event stream", "url", l.url)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env eventEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			l.logger.Warn("dropping malformed coordinator frame", "error", err)
			continue
		}
		ev, err := decodeCircuitEvent(env)
		if err != nil {
			l.logger.Warn("dropping undecodable coordinator event", "kind", env.Kind, "error", err)
			continue
		}

		select {
		case l.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func decodeCircuitEvent(env eventEnvelope) (types.CircuitEvent, error) {
	decode := func(v any) error {
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return nil
	}

	switch env.Kind {
	case "NewSideEffectsAvailable":
		var ev types.NewSideEffectsAvailable
		return ev, decode(&ev)
	case "SFXNewBidReceived":
		var ev types.SFXNewBidReceived
		return ev, decode(&ev)
	case "XTransactionReadyForExec":
		var ev types.XTransactionReadyForExec
		return ev, decode(&ev)
	case "HeaderSubmitted":
		var ev types.HeaderSubmitted
		return ev, decode(&ev)
	case "SideEffectConfirmed":
		var ev types.SideEffectConfirmed
		return ev, decode(&ev)
	case "XtxCompleted":
		var ev types.XtxCompleted
		return ev, decode(&ev)
	case "DroppedAtBidding":
		var ev types.DroppedAtBidding
		return ev, decode(&ev)
	case "RevertTimedOut":
		var ev types.RevertTimedOut
		return ev, decode(&ev)
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}
