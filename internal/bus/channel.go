package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/telemetry"
)

// ChannelBus delivers events in process over buffered Go channels.
// Used as the Community tier event bus.
//
// Delivery never blocks the publisher. A receiver whose buffer is full
// misses the message and the drop is counted.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	routes     map[string]*route
	closed     bool
	dropped    atomic.Int64
}

// route holds the receivers of one tenant/topic pair.
type route struct {
	fanout []*receiver
	groups map[string]*consumerGroup
}

// consumerGroup hands each message to one member, rotating the start point.
type consumerGroup struct {
	members []*receiver
	next    atomic.Uint64
}

type receiver struct {
	bus      *ChannelBus
	id       string
	tenantID string
	topic    string
	group    string
	handler  domain.MessageHandler
	inbox    chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChannelBus creates a channel bus whose receivers buffer up to
// bufferSize messages each.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		routes:     make(map[string]*route),
	}
}

// Publish delivers to the tenant's route and to the GlobalTenantID route of
// the same topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := newMessage(ctx, tenantID, topic, payload)

	b.deliver(b.routes[routeKey(tenantID, topic)], msg)
	if tenantID != domain.GlobalTenantID {
		b.deliver(b.routes[routeKey(domain.GlobalTenantID, topic)], msg)
	}
	return nil
}

// deliver must be called with b.mu held.
func (b *ChannelBus) deliver(rt *route, msg *domain.Message) {
	if rt == nil {
		return
	}
	for _, r := range rt.fanout {
		if !r.offer(msg) {
			b.drop(msg, r)
		}
	}
	for _, g := range rt.groups {
		n := len(g.members)
		start := int(g.next.Add(1)-1) % n
		accepted := false
		for i := 0; i < n && !accepted; i++ {
			accepted = g.members[(start+i)%n].offer(msg)
		}
		if !accepted {
			b.drop(msg, g.members[start])
		}
	}
}

func (b *ChannelBus) drop(msg *domain.Message, r *receiver) {
	b.dropped.Add(1)
	telemetry.EventsDroppedTotal.WithLabelValues(msg.Topic).Inc()
	slog.Warn("event dropped, receiver buffer full",
		"topic", msg.Topic,
		"tenant_id", msg.TenantID,
		"subscription", r.id,
		"group", r.group,
	)
}

// Subscribe registers a handler that receives every message of the topic.
// Subscribing with GlobalTenantID receives the topic for every tenant.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.attach(ctx, tenantID, topic, "", handler)
}

// SubscribeGroup registers a handler as one member of group. Members of the
// same group on the same tenant/topic share its messages.
func (b *ChannelBus) SubscribeGroup(ctx context.Context, tenantID string, topic string, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if group == "" {
		return nil, ErrGroupRequired
	}
	return b.attach(ctx, tenantID, topic, group, handler)
}

func (b *ChannelBus) attach(ctx context.Context, tenantID, topic, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	r := &receiver{
		bus:      b,
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		group:    group,
		handler:  handler,
		inbox:    make(chan *domain.Message, b.bufferSize),
		ctx:      subCtx,
		cancel:   cancel,
	}

	key := routeKey(tenantID, topic)
	rt := b.routes[key]
	if rt == nil {
		rt = &route{groups: make(map[string]*consumerGroup)}
		b.routes[key] = rt
	}
	if group == "" {
		rt.fanout = append(rt.fanout, r)
	} else {
		g := rt.groups[group]
		if g == nil {
			g = &consumerGroup{}
			rt.groups[group] = g
		}
		g.members = append(g.members, r)
	}

	go r.run()
	return r, nil
}

// Dropped returns how many deliveries were skipped because a receiver
// buffer was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every receiver. Messages still buffered are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, rt := range b.routes {
		for _, r := range rt.fanout {
			r.cancel()
		}
		for _, g := range rt.groups {
			for _, r := range g.members {
				r.cancel()
			}
		}
	}
	b.routes = make(map[string]*route)
	return nil
}

func (b *ChannelBus) detach(r *receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := routeKey(r.tenantID, r.topic)
	rt := b.routes[key]
	if rt == nil {
		return
	}
	if r.group == "" {
		rt.fanout = without(rt.fanout, r)
	} else if g := rt.groups[r.group]; g != nil {
		g.members = without(g.members, r)
		if len(g.members) == 0 {
			delete(rt.groups, r.group)
		}
	}
	if len(rt.fanout) == 0 && len(rt.groups) == 0 {
		delete(b.routes, key)
	}
}

func without(rs []*receiver, r *receiver) []*receiver {
	for i, x := range rs {
		if x == r {
			return append(rs[:i:i], rs[i+1:]...)
		}
	}
	return rs
}

func routeKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// offer queues msg without blocking and reports whether it was accepted.
func (r *receiver) offer(msg *domain.Message) bool {
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.inbox <- msg:
		return true
	default:
		return false
	}
}

func (r *receiver) run() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-r.inbox:
			if err := r.handler(handlerContext(r.ctx, msg), msg); err != nil {
				slog.Error("handler error",
					"topic", r.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe stops receiving messages.
func (r *receiver) Unsubscribe() error {
	r.cancel()
	r.bus.detach(r)
	return nil
}

// Topic returns the subscribed topic.
func (r *receiver) Topic() string {
	return r.topic
}
