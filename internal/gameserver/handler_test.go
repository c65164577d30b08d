package gameserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/warband/internal/protocol"
)

func TestDispatchUnknownType(t *testing.T) {
	s := &Server{log: testLogger()}
	c := newTestClient(t, "alice")

	s.dispatch(context.Background(), c, protocol.Request{Type: "teleport", Seq: 9})

	select {
	case frame := <-c.sendCh:
		var resp protocol.Response
		require.NoError(t, json.Unmarshal(frame, &resp))
		assert.Equal(t, protocol.TypeError, resp.Type)
		assert.Equal(t, uint64(9), resp.ReqSeq)
		assert.False(t, resp.Success)
		assert.Equal(t, protocol.ErrUnknownType, resp.Error)
	default:
		t.Fatal("unknown type must still get an answer")
	}
}
