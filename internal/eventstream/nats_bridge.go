package eventstream

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	watermillnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/chaingraph/core/internal/pkg/errors"
)

const streamSubjectPrefix = "chaingraph.stream."

// Hub layers real-time wakeups on top of Store: every Append a caller makes
// durable in Postgres is also pinged out over NATS so Subscribe loops parked
// in their notifier wait don't have to sit out a full poll interval. NATS
// carries no payload of record — Postgres via Store.Read remains the only
// source of truth a subscriber trusts, so a dropped or out-of-order NATS
// message only costs a subscriber one extra poll tick, never a missed event.
type Hub struct {
	conn      *natsgo.Conn
	publisher *watermillnats.Publisher
	logger    watermill.LoggerAdapter

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewHub connects to NATS, ensures the JetStream stream backing wakeup
// pings exists, and starts the fan-out consumer loop.
func NewHub(natsURL string) (*Hub, error) {
	logger := watermill.NewStdLogger(false, false)

	conn, err := natsgo.Connect(natsURL)
	if err != nil {
		return nil, errors.Transient("failed to connect to nats", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, errors.Transient("failed to open jetstream context", err)
	}
	if err := ensureStreamSubjectsExist(js); err != nil {
		conn.Close()
		return nil, errors.Transient("failed to ensure stream subjects", err)
	}

	pub, err := watermillnats.NewPublisher(
		watermillnats.PublisherConfig{URL: natsURL, Marshaler: watermillnats.GobMarshaler{}},
		logger,
	)
	if err != nil {
		conn.Close()
		return nil, errors.Transient("failed to create nats publisher", err)
	}

	sub, err := watermillnats.NewSubscriber(
		watermillnats.SubscriberConfig{URL: natsURL, Unmarshaler: watermillnats.GobMarshaler{}},
		logger,
	)
	if err != nil {
		pub.Close()
		conn.Close()
		return nil, errors.Transient("failed to create nats subscriber", err)
	}

	msgs, err := sub.Subscribe(context.Background(), streamSubjectPrefix+">")
	if err != nil {
		pub.Close()
		conn.Close()
		return nil, errors.Transient("failed to subscribe to stream wakeups", err)
	}

	h := &Hub{
		conn:      conn,
		publisher: pub,
		logger:    logger,
		waiters:   make(map[string][]chan struct{}),
	}
	go h.fanOut(msgs)
	return h, nil
}

func ensureStreamSubjectsExist(js natsgo.JetStreamContext) error {
	const name = "chaingraph-stream"
	if _, err := js.StreamInfo(name); err == nil {
		return nil
	}
	_, err := js.AddStream(&natsgo.StreamConfig{
		Name:     name,
		Subjects: []string{streamSubjectPrefix + ">"},
		Storage:  natsgo.FileStorage,
		Replicas: 1,
	})
	return err
}

func (h *Hub) fanOut(msgs <-chan *message.Message) {
	for msg := range msgs {
		workflowID := msg.Metadata.Get("workflowId")
		msg.Ack()
		if workflowID == "" {
			continue
		}
		h.wake(workflowID)
	}
}

func (h *Hub) wake(workflowID string) {
	h.mu.Lock()
	waiters := h.waiters[workflowID]
	delete(h.waiters, workflowID)
	h.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Notify pings every Wait call currently parked for workflowID.
func (h *Hub) Notify(ctx context.Context, workflowID string) error {
	msg := message.NewMessage(watermill.NewUUID(), nil)
	msg.Metadata.Set("workflowId", workflowID)
	if err := h.publisher.Publish(streamSubjectPrefix+workflowID, msg); err != nil {
		return errors.Transient("failed to publish stream wakeup", err)
	}
	return nil
}

// Wait implements Notifier: it blocks until Notify(workflowID) is called
// from anywhere (this process or another) or ctx is done.
func (h *Hub) Wait(ctx context.Context, workflowID string) {
	ch := make(chan struct{})
	h.mu.Lock()
	h.waiters[workflowID] = append(h.waiters[workflowID], ch)
	h.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}
}

var _ Notifier = (*Hub)(nil)

// Close releases the underlying NATS publisher and connection.
func (h *Hub) Close() error {
	_ = h.publisher.Close()
	h.conn.Close()
	return nil
}
