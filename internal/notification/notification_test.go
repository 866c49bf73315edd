package notification

import (
	"context"
	"fmt"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/util"
)

func runNatsTestServer(t *testing.T, fn func(natsurl string, nc *nats.Conn, js jetstream.JetStream)) {
	port, err := util.GetFreePort()
	if err != nil {
		t.Fatal(err)
	}
	opts := natsserver.DefaultTestOptions
	opts.Port = port
	opts.Cluster.Name = "testing"
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)
	defer srv.Shutdown()
	url := fmt.Sprintf("nats://localhost:%d", port)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	fn(url, nc, js)
}

func TestPublisherDeliversEvents(t *testing.T) {
	runNatsTestServer(t, func(natsurl string, nc *nats.Conn, js jetstream.JetStream) {
		p := New(Config{Logger: logger.NewTestLogger(), URL: natsurl, InstanceID: "test"})
		assert.NoError(t, p.Start())
		defer p.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		consumer, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
			Durable:       "events_test",
			AckPolicy:     jetstream.AckExplicitPolicy,
			FilterSubject: "gridbase.events.7.>",
		})
		assert.NoError(t, err)

		event := internal.ChangeEvent{
			ID:         "evt-insert-1",
			Operation:  internal.OpInsert,
			TenantID:   7,
			Table:      "orders",
			RecordID:   "42",
			InstanceID: "test",
			Timestamp:  time.Now(),
		}
		p.Publish(event)

		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(time.Second*5))
		assert.NoError(t, err)
		var received *internal.ChangeEvent
		for msg := range batch.Messages() {
			assert.Equal(t, "gridbase.events.7.orders.insert", msg.Subject())
			assert.Equal(t, "msgpack", msg.Headers().Get("content-encoding"))
			assert.Equal(t, "evt-insert-1", msg.Headers().Get(nats.MsgIdHdr))
			var decoded internal.ChangeEvent
			assert.NoError(t, msgpack.Unmarshal(msg.Data(), &decoded))
			received = &decoded
			assert.NoError(t, msg.Ack())
		}
		assert.NoError(t, batch.Error())
		if assert.NotNil(t, received) {
			assert.Equal(t, internal.OpInsert, received.Operation)
			assert.Equal(t, int64(7), received.TenantID)
			assert.Equal(t, "orders", received.Table)
			assert.Equal(t, "42", received.RecordID)
			assert.Equal(t, "test", received.InstanceID)
		}
	})
}

func TestPublisherStopDrains(t *testing.T) {
	runNatsTestServer(t, func(natsurl string, nc *nats.Conn, js jetstream.JetStream) {
		p := New(Config{Logger: logger.NewTestLogger(), URL: natsurl})
		assert.NoError(t, p.Start())
		for i := 0; i < 5; i++ {
			p.Publish(internal.ChangeEvent{
				ID:        fmt.Sprintf("evt-%d", i),
				Operation: internal.OpUpdate,
				TenantID:  9,
				Table:     "customers",
				RecordID:  fmt.Sprintf("%d", i),
				Timestamp: time.Now(),
			})
		}
		p.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		stream, err := js.Stream(ctx, StreamName)
		assert.NoError(t, err)
		info, err := stream.Info(ctx)
		assert.NoError(t, err)
		assert.Equal(t, uint64(5), info.State.Msgs)

		// publishing after stop must not panic on the closed queue
		p.Publish(internal.ChangeEvent{ID: "late", Operation: internal.OpDelete, TenantID: 9, Table: "customers"})
	})
}

func TestPublisherDropsWhenFull(t *testing.T) {
	// never started, so nothing drains the queue
	p := New(Config{Logger: logger.NewTestLogger(), URL: "nats://localhost:4222", BufferSize: 1})
	p.Publish(internal.ChangeEvent{ID: "a", Operation: internal.OpInsert, TenantID: 1, Table: "orders"})
	p.Publish(internal.ChangeEvent{ID: "b", Operation: internal.OpInsert, TenantID: 1, Table: "orders"})
	assert.Equal(t, 1, len(p.queue))
}
