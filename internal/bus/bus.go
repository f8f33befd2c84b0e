package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
)

// EventBus 实时状态事件总线（Redis Pub/Sub）
// 所有原始状态事件都会发布到固定频道，与通知去重逻辑无关；
// 显式构造、显式 Shutdown，不持有任何进程级全局状态
type EventBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription 一次订阅；Cancel 只关闭本订阅独占的 Pub/Sub 连接
type Subscription struct {
	events chan models.BusEvent
	pubsub *redis.PubSub
	bus    *EventBus
	once   sync.Once
}

// Events 事件接收通道（订阅取消后关闭）
func (s *Subscription) Events() <-chan models.BusEvent {
	return s.events
}

// Cancel 取消订阅并释放其独占的连接
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s)
		// 关闭 PubSub 会让接收循环退出并关闭 events 通道
		_ = s.pubsub.Close()
	})
}

// NewEventBus 创建事件总线
func NewEventBus(client *redis.Client, channel string, logger *zap.Logger) *EventBus {
	return &EventBus{
		client:  client,
		channel: channel,
		logger:  logger,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Publish 发布一条归一化状态事件
func (b *EventBus) Publish(ctx context.Context, event models.BusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal bus event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish bus event: %w", err)
	}

	return nil
}

// Subscribe 订阅实时状态事件
// 每个订阅持有独立的 Pub/Sub 连接，Cancel 互不影响
func (b *EventBus) Subscribe(ctx context.Context) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("event bus is shut down")
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, b.channel)

	// 等待订阅确认，避免错过紧随其后发布的事件
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", b.channel, err)
	}

	sub := &Subscription{
		events: make(chan models.BusEvent, 16),
		pubsub: pubsub,
		bus:    b,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go b.pump(sub)

	return sub, nil
}

// pump 将 Redis 消息解码后泵入订阅通道
func (b *EventBus) pump(sub *Subscription) {
	defer close(sub.events)

	for msg := range sub.pubsub.Channel() {
		var event models.BusEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			b.logger.Warn("Dropping malformed bus event",
				zap.String("channel", b.channel),
				zap.Error(err),
			)
			continue
		}

		// 慢订阅者丢事件，不能阻塞泵
		select {
		case sub.events <- event:
		default:
			b.logger.Warn("Subscriber too slow, dropping bus event",
				zap.String("channel", b.channel),
				zap.String("device_id", event.DeviceID),
			)
		}
	}
}

// Shutdown 关闭全部订阅（不关闭共享的 Redis 客户端，由调用方负责）
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}

	b.logger.Info("Event bus shut down",
		zap.Int("cancelled_subscriptions", len(subs)),
	)
}

func (b *EventBus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}
