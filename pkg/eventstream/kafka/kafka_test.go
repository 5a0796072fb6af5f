package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
)

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages and then blocks until cancelled.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafkago.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error { return nil }

func envelopeMessage(offset int64, event eventstream.EntityChangeEvent) kafkago.Message {
	payload, err := json.Marshal(eventstream.NewEnvelope("evt", time.Unix(1735689600, 0).UTC(), &event))
	Expect(err).NotTo(HaveOccurred())
	return kafkago.Message{Offset: offset, Value: payload}
}

var _ = Describe("Kafka eventstream", func() {
	It("requires brokers", func() {
		_, err := NewPublisher(Config{})
		Expect(err).To(HaveOccurred())
		_, err = NewSubscriber(Config{})
		Expect(err).To(HaveOccurred())
	})

	Describe("Publisher", func() {
		It("writes a keyed envelope", func() {
			w := &fakeWriter{}
			p := &Publisher{writer: w, now: time.Now}

			err := p.Publish(context.Background(), &eventstream.EntityChangeEvent{
				EntityType: "item", EntityID: "x", EventType: "transferred",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(w.msgs).To(HaveLen(1))
			Expect(string(w.msgs[0].Key)).To(Equal("item:x"))

			var env eventstream.Envelope
			Expect(json.Unmarshal(w.msgs[0].Value, &env)).To(Succeed())
			Expect(env.EventType).To(Equal(eventstream.EventTypeEntityChanged))
			Expect(env.EventID).NotTo(BeEmpty())
			Expect(env.Event.EventType).To(Equal("transferred"))
		})

		It("rejects invalid events before writing", func() {
			w := &fakeWriter{}
			p := &Publisher{writer: w, now: time.Now}
			Expect(p.Publish(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
			Expect(w.msgs).To(BeEmpty())
		})

		It("wraps writer failures", func() {
			p := &Publisher{writer: &fakeWriter{err: errors.New("broker down")}, now: time.Now}
			err := p.Publish(context.Background(), &eventstream.EntityChangeEvent{EntityType: "item", EventType: "deleted"})
			Expect(err).To(MatchError(ContainSubstring("broker down")))
		})
	})

	Describe("Subscriber", func() {
		var (
			reader *fakeReader
			sub    *Subscriber
		)

		BeforeEach(func() {
			reader = &fakeReader{}
			sub = &Subscriber{reader: reader, logger: zap.NewNop(), backoff: time.Millisecond}
		})

		run := func(handle eventstream.Handler) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- sub.Subscribe(ctx, handle) }()

			Eventually(func() int { return len(reader.Commits()) }).Should(Equal(2))
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		}

		It("delivers events and commits each offset", func() {
			reader.queue = []kafkago.Message{
				envelopeMessage(1, eventstream.EntityChangeEvent{EntityType: "item", EntityID: "x", EventType: "transferred"}),
				envelopeMessage(2, eventstream.EntityChangeEvent{EntityType: "task", EntityID: "t", EventType: "completed"}),
			}

			var mu sync.Mutex
			var got []string
			stamped := true
			run(func(_ context.Context, e *eventstream.EntityChangeEvent) error {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, e.Key())
				stamped = stamped && !e.Timestamp.IsZero()
				return nil
			})

			Expect(got).To(Equal([]string{"item:x", "task:t"}))
			Expect(stamped).To(BeTrue())
			Expect(reader.Commits()).To(Equal([]int64{1, 2}))
		})

		It("skips undecodable messages and exhausted handlers", func() {
			reader.queue = []kafkago.Message{
				{Offset: 1, Value: []byte("not json")},
				envelopeMessage(2, eventstream.EntityChangeEvent{EntityType: "item", EventType: "deleted"}),
			}

			var mu sync.Mutex
			calls := 0
			run(func(context.Context, *eventstream.EntityChangeEvent) error {
				mu.Lock()
				defer mu.Unlock()
				calls++
				return errors.New("store unavailable")
			})

			Expect(calls).To(Equal(defaultHandleAttempts))
		})
	})
})
