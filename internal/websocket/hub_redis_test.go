package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelayedHub(t *testing.T, mr *miniredis.Miniredis) *Hub {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hub := NewHub(rdb, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receiveSeq(t *testing.T, client *Client) uint64 {
	t.Helper()
	msg := receive(t, client)
	var delta entity.LogDelta
	require.NoError(t, json.Unmarshal(msg.Data, &delta))
	return delta.Seq
}

func TestHubRelayDeliversOnceAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	hubA := startRelayedHub(t, mr)
	hubB := startRelayedHub(t, mr)

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(RelayChannel)[RelayChannel] == 2
	}, 2*time.Second, 5*time.Millisecond)

	onA := joined(t, hubA, "s")
	onB := joined(t, hubB, "s")

	hubA.PublishLogDelta("s", entity.LogDelta{Mode: entity.LogModeAppend, Delta: "a", Seq: 1})
	assert.Equal(t, uint64(1), receiveSeq(t, onA))
	assert.Equal(t, uint64(1), receiveSeq(t, onB))

	// Relay order is preserved per subscriber, so an echo of seq 1 on A
	// would arrive before seq 2.
	hubB.PublishLogDelta("s", entity.LogDelta{Mode: entity.LogModeAppend, Delta: "b", Seq: 2})
	assert.Equal(t, uint64(2), receiveSeq(t, onB))
	assert.Equal(t, uint64(2), receiveSeq(t, onA))

	hubA.PublishLogDelta("s", entity.LogDelta{Mode: entity.LogModeAppend, Delta: "c", Seq: 3})
	assert.Equal(t, uint64(3), receiveSeq(t, onA))
	assert.Equal(t, uint64(3), receiveSeq(t, onB))

	// Both relays have processed seq 3 by now; nothing else is pending.
	hubB.PublishLogDelta("s", entity.LogDelta{Mode: entity.LogModeAppend, Delta: "d", Seq: 4})
	assert.Equal(t, uint64(4), receiveSeq(t, onB))
	assert.Equal(t, uint64(4), receiveSeq(t, onA))
	assert.Empty(t, onA.Send)
	assert.Empty(t, onB.Send)
}

func TestHubRelayIgnoresOtherSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	hubA := startRelayedHub(t, mr)
	hubB := startRelayedHub(t, mr)

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(RelayChannel)[RelayChannel] == 2
	}, 2*time.Second, 5*time.Millisecond)

	other := joined(t, hubB, "other")
	target := joined(t, hubB, "s")

	hubA.PublishLogDelta("s", entity.LogDelta{Mode: entity.LogModeSet, Delta: "x", Seq: 1})
	assert.Equal(t, uint64(1), receiveSeq(t, target))
	assert.Empty(t, other.Send)
}
