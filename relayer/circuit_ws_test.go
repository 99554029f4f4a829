package relayer

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xexd/xexd/pkg/log"
	"github.com/xexd/xexd/types"
)

func TestCircuitListenerDecodesEvents(t *testing.T) {
	frames := []string{
		`{"kind":"HeaderSubmitted","payload":{"Vendor":"roco","Height":120}}`,
		`{"kind":"SFXNewBidReceived","payload":{"SfxID":"` + strings.Repeat("ab", 32) + `","Bidder":"5Alice","Amount":500}}`,
		`{"kind":"not-a-real-kind","payload":{}}`,
		`{"kind":"XtxCompleted","payload":{"XtxID":"` + strings.Repeat("cd", 32) + `"}}`,
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, frame := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	listener := NewCircuitListener("ws"+strings.TrimPrefix(srv.URL, "http"), log.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()

	recv := func() types.CircuitEvent {
		select {
		case ev := <-listener.Events():
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
			return nil
		}
	}

	header, ok := recv().(types.HeaderSubmitted)
	require.True(t, ok)
	assert.Equal(t, "roco", header.Vendor)
	assert.Equal(t, uint64(120), header.Height)

	bid, ok := recv().(types.SFXNewBidReceived)
	require.True(t, ok)
	assert.Equal(t, "5Alice", bid.Bidder)
	assert.Equal(t, big.NewInt(500), bid.Amount)

	// the unknown kind is dropped, the completion event follows
	_, ok = recv().(types.XtxCompleted)
	assert.True(t, ok)
}

func TestDecodeCircuitEventUnknownKind(t *testing.T) {
	_, err := decodeCircuitEvent(eventEnvelope{Kind: "Spurious", Payload: []byte(`{}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event kind")
}
