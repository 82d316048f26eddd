package bus

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func noop(ctx context.Context, msg *domain.Message) error { return nil }

func counter(n *atomic.Int32) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		n.Add(1)
		return nil
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("DecisionFanout", func(t *testing.T) {
		got := make(chan *domain.Message, 2)
		for i := 0; i < 2; i++ {
			_, err := bus.Subscribe(ctx, "tenant-001", domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
				got <- msg
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}
		}

		if err := bus.Publish(ctx, "tenant-001", domain.TopicDecision, []byte(`{"action":"BLOCK"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		for i := 0; i < 2; i++ {
			select {
			case msg := <-got:
				if string(msg.Payload) != `{"action":"BLOCK"}` {
					t.Errorf("unexpected payload %s", msg.Payload)
				}
				if msg.TenantID != "tenant-001" || msg.Topic != domain.TopicDecision {
					t.Errorf("unexpected envelope %s/%s", msg.TenantID, msg.Topic)
				}
				if msg.ID == "" {
					t.Error("expected message ID")
				}
			case <-time.After(time.Second):
				t.Fatalf("subscriber %d did not receive the decision", i+1)
			}
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var a, b atomic.Int32
		bus.Subscribe(ctx, "tenant-a", domain.TopicAlert, counter(&a))
		bus.Subscribe(ctx, "tenant-b", domain.TopicAlert, counter(&b))

		bus.Publish(ctx, "tenant-a", domain.TopicAlert, []byte("{}"))
		eventually(t, func() bool { return a.Load() == 1 })
		time.Sleep(20 * time.Millisecond)

		if b.Load() != 0 {
			t.Errorf("tenant-b received %d alerts for tenant-a", b.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", domain.TopicDecision, nil); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got: %v", err)
		}
		if _, err := bus.Subscribe(ctx, "", domain.TopicDecision, noop); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got: %v", err)
		}
		if _, err := bus.SubscribeGroup(ctx, "", domain.TopicDecision, "g", noop); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got: %v", err)
		}
		if _, err := bus.SubscribeGroup(ctx, "tenant-001", domain.TopicDecision, "", noop); !errors.Is(err, ErrGroupRequired) {
			t.Errorf("expected ErrGroupRequired, got: %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var n atomic.Int32
		sub, _ := bus.Subscribe(ctx, "tenant-unsub", domain.TopicDecision, counter(&n))
		if sub.Topic() != domain.TopicDecision {
			t.Errorf("expected topic %s, got %s", domain.TopicDecision, sub.Topic())
		}

		bus.Publish(ctx, "tenant-unsub", domain.TopicDecision, []byte("1"))
		eventually(t, func() bool { return n.Load() == 1 })

		sub.Unsubscribe()
		bus.Publish(ctx, "tenant-unsub", domain.TopicDecision, []byte("2"))
		time.Sleep(30 * time.Millisecond)

		if n.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", n.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusConsumerGroup(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	var members [3]atomic.Int32
	for i := range members {
		if _, err := bus.SubscribeGroup(ctx, "tenant-001", domain.TopicTransactionIngested, "scorers", counter(&members[i])); err != nil {
			t.Fatalf("subscribe group failed: %v", err)
		}
	}
	var audit atomic.Int32
	bus.Subscribe(ctx, "tenant-001", domain.TopicTransactionIngested, counter(&audit))

	const sent = 30
	for i := 0; i < sent; i++ {
		if err := bus.Publish(ctx, "tenant-001", domain.TopicTransactionIngested, []byte("{}")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	total := func() int32 { return members[0].Load() + members[1].Load() + members[2].Load() }
	eventually(t, func() bool { return total() == sent && audit.Load() == sent })
	time.Sleep(20 * time.Millisecond)

	if total() != sent {
		t.Errorf("group handled %d messages, want exactly %d", total(), sent)
	}
	for i := range members {
		if got := members[i].Load(); got != sent/3 {
			t.Errorf("member %d handled %d, want %d", i, got, sent/3)
		}
	}
}

func TestChannelBusGroupLeaves(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()
	var a, b atomic.Int32
	subA, _ := bus.SubscribeGroup(ctx, "tenant-001", domain.TopicTransactionIngested, "scorers", counter(&a))
	bus.SubscribeGroup(ctx, "tenant-001", domain.TopicTransactionIngested, "scorers", counter(&b))

	subA.Unsubscribe()
	for i := 0; i < 4; i++ {
		bus.Publish(ctx, "tenant-001", domain.TopicTransactionIngested, []byte("{}"))
	}

	eventually(t, func() bool { return b.Load() == 4 })
	if a.Load() != 0 {
		t.Errorf("departed member received %d messages", a.Load())
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "tenant-001", domain.TopicDecision, noop)
	bus.SubscribeGroup(ctx, "tenant-001", domain.TopicTransactionIngested, "scorers", noop)

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "tenant-001", domain.TopicDecision, []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got: %v", err)
	}
	if _, err := bus.Subscribe(ctx, "tenant-001", domain.TopicDecision, noop); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got: %v", err)
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusGlobalSubscription(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()

	var tenants sync.Map
	var wg sync.WaitGroup
	wg.Add(2)

	_, err := bus.Subscribe(ctx, domain.GlobalTenantID, domain.TopicModelPublished, func(ctx context.Context, msg *domain.Message) error {
		tenants.Store(msg.TenantID, true)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	_ = bus.Publish(ctx, "tenant-a", domain.TopicModelPublished, []byte("a"))
	_ = bus.Publish(ctx, "tenant-b", domain.TopicModelPublished, []byte("b"))
	_ = bus.Publish(ctx, "tenant-a", domain.TopicAlert, []byte("other topic"))

	waitOrFail(t, &wg)

	for _, id := range []string{"tenant-a", "tenant-b"} {
		if _, ok := tenants.Load(id); !ok {
			t.Errorf("global subscriber missed %s", id)
		}
	}
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	block := make(chan struct{})
	defer close(block)

	_, _ = bus.Subscribe(ctx, "tenant-001", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		<-block
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, "tenant-001", domain.TopicAlert, []byte("alert")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	// One in flight, one buffered, the rest dropped
	if bus.Dropped() < 3 {
		t.Errorf("expected at least 3 dropped deliveries, got %d", bus.Dropped())
	}
}

func TestChannelBusPropagatesTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	bus := NewChannelBus(10)
	defer bus.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	got := make(chan trace.SpanContext, 1)
	_, _ = bus.Subscribe(context.Background(), "tenant-001", domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		got <- trace.SpanContextFromContext(ctx)
		return nil
	})

	if err := bus.Publish(ctx, "tenant-001", domain.TopicDecision, []byte("{}")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case remote := <-got:
		if remote.TraceID() != traceID {
			t.Errorf("expected trace %s, got %s", traceID, remote.TraceID())
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		tenant string
		want   string
		err    error
	}{
		{"tenant-001", "fraudguard.decision.tenant-001", nil},
		{domain.GlobalTenantID, "fraudguard.decision.*", nil},
		{"", "", ErrTenantRequired},
		{"acme.eu", "", ErrInvalidTenant},
		{"acme>", "", ErrInvalidTenant},
		{"acme corp", "", ErrInvalidTenant},
	}

	for _, tt := range tests {
		t.Run(tt.tenant, func(t *testing.T) {
			got, err := Subject(tt.tenant, domain.TopicDecision)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected error %v, got %v", tt.err, err)
			}
			if got != tt.want {
				t.Errorf("expected subject %q, got %q", tt.want, got)
			}
		})
	}

	if got := topicOf("fraudguard.decision.tenant-001"); got != domain.TopicDecision {
		t.Errorf("topicOf: got %q", got)
	}
}

// TestNATSBus runs against the server in FRAUDGUARD_TEST_NATS_URL.
func TestNATSBus(t *testing.T) {
	url := os.Getenv("FRAUDGUARD_TEST_NATS_URL")
	if url == "" {
		t.Skip("FRAUDGUARD_TEST_NATS_URL not set, skipping NATS test")
	}

	bus, err := NewNATSBus(domain.EventBusConfig{Type: "nats", NATSUrl: url, NATSMaxReconnects: 1, NATSReconnectWait: 1})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	if err := bus.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	t.Run("GlobalSubscription", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		var once sync.Once
		_, err := bus.Subscribe(ctx, domain.GlobalTenantID, domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			if msg.TenantID == "tenant-nats" {
				once.Do(wg.Done)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		bus.conn.Flush()

		if err := bus.Publish(ctx, "tenant-nats", domain.TopicDecision, []byte("{}")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitOrFail(t, &wg)
	})

	t.Run("QueueGroup", func(t *testing.T) {
		var a, b atomic.Int32
		bus.SubscribeGroup(ctx, "tenant-nats", domain.TopicTransactionIngested, "scorers", counter(&a))
		bus.SubscribeGroup(ctx, "tenant-nats", domain.TopicTransactionIngested, "scorers", counter(&b))
		bus.conn.Flush()

		for i := 0; i < 10; i++ {
			bus.Publish(ctx, "tenant-nats", domain.TopicTransactionIngested, []byte("{}"))
		}
		eventually(t, func() bool { return a.Load()+b.Load() == 10 })
		time.Sleep(50 * time.Millisecond)
		if a.Load()+b.Load() != 10 {
			t.Errorf("queue group handled %d, want 10", a.Load()+b.Load())
		}
	})
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for messages")
	}
}
