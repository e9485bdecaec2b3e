package chat

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadside/internal/infra"
)

func TestBrokerFansOutAcrossHubs(t *testing.T) {
	addr := os.Getenv("ROADSIDE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROADSIDE_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := infra.NewRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	defer rdb.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)

	// two instances, each with its own hub
	hubA, hubB := NewHub(4), NewHub(4)
	brokerA, brokerB := NewBroker(rdb, hubA, log), NewBroker(rdb, hubB, log)
	go func() { _ = brokerA.Run(ctx) }()
	go func() { _ = brokerB.Run(ctx) }()

	sub := hubB.NewSubscriber()
	hubB.Join("room-x", sub)

	// the subscription is asynchronous; publish until it lands
	deadline := time.After(3 * time.Second)
	for {
		require.NoError(t, brokerA.Publish(ctx, "room-x", []byte(`{"event":"ping"}`)))
		select {
		case f := <-sub.Messages():
			assert.JSONEq(t, `{"event":"ping"}`, string(f))
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("frame never arrived through redis")
		}
	}
}
