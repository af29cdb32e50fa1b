package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fisaks/uhn-relay/internal/logging"
)

type BrokerConfig struct {
	BrokerURL        string
	ClientName       string
	Username         string
	Password         string
	TopicPrefix      string
	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
}

type MsgBroker struct {
	config         BrokerConfig
	client         mqtt.Client
	mu             sync.RWMutex
	subs           map[string]subscription
	onConnectFuncs map[string]OnConnectPublisher
}

type subscription struct {
	qos     QoS
	handler mqtt.MessageHandler
}

type PublishRequest struct {
	// If Context is nil, context.Background() is used
	Context      context.Context
	Topic        string
	Qos          QoS
	Retain       bool
	PayloadBytes []byte
	Payload      interface{}
}

type OnConnectPublisher func() (PublishRequest, error)

func NewMsgBroker(cfg BrokerConfig) *MsgBroker {
	return &MsgBroker{
		config:         cfg,
		subs:           make(map[string]subscription),
		onConnectFuncs: make(map[string]OnConnectPublisher),
	}
}

// newMsgBrokerWithClient skips building a paho client from the config.
func newMsgBrokerWithClient(cfg BrokerConfig, client mqtt.Client) *MsgBroker {
	b := NewMsgBroker(cfg)
	b.client = client
	return b
}

func (b *MsgBroker) Connect(ctx context.Context) error {
	if b.client == nil {
		b.client = mqtt.NewClient(b.optionsFromConfig())
	}
	if b.client.IsConnected() {
		return nil
	}

	timeout := b.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t := b.client.Connect()
	select {
	case <-t.Done():
		if err := t.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", b.config.BrokerURL, err)
		}
		return nil
	case <-time.After(timeout):
		b.client.Disconnect(250)
		return fmt.Errorf("mqtt connect %s: timeout after %v", b.config.BrokerURL, timeout)
	case <-ctx.Done():
		b.client.Disconnect(250)
		return ctx.Err()
	}
}

func (b *MsgBroker) optionsFromConfig() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().AddBroker(b.config.BrokerURL)
	opts.SetClientID("uhn-" + b.config.ClientName)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	// handlers must not block, they run on the router goroutine
	opts.SetOrderMatters(true)
	if b.config.Username != "" {
		opts.SetUsername(b.config.Username)
		opts.SetPassword(b.config.Password)
	}
	opts.OnConnect = func(c mqtt.Client) {
		logging.Info("mqtt connected", "clientName", b.config.ClientName, "broker", b.config.BrokerURL)
		b.onConnect()
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logging.Warn("mqtt connection lost", "clientName", b.config.ClientName, "error", err)
	}
	return opts
}

func (b *MsgBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectFuncs[id] = fn
}

func (b *MsgBroker) RemoveOnConnectPublisher(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.onConnectFuncs, id)
}

func (b *MsgBroker) onConnect() {
	b.resubscribe()
	b.onConnectPublisher()
}

// resubscribe restores tracked subscriptions after a reconnect with a clean session.
func (b *MsgBroker) resubscribe() {
	b.mu.RLock()
	subsCopy := make(map[string]subscription, len(b.subs))
	for k, v := range b.subs {
		subsCopy[k] = v
	}
	b.mu.RUnlock()

	for topic, s := range subsCopy {
		qosByte, _ := qosToByte(s.qos)
		// called from the paho connect callback, so never wait on the token here
		b.client.Subscribe(topic, qosByte, s.handler)
		logging.Debug("mqtt resubscribed", "clientName", b.config.ClientName, "topic", topic)
	}
}

func (b *MsgBroker) onConnectPublisher() {
	b.mu.RLock()
	funcsCopy := make(map[string]OnConnectPublisher, len(b.onConnectFuncs))
	for k, v := range b.onConnectFuncs {
		funcsCopy[k] = v
	}
	b.mu.RUnlock()

	for id, fn := range funcsCopy {
		req, err := fn()
		if err != nil {
			logging.Error("onConnectPublisher failed", "clientName", b.config.ClientName, "id", id, "error", err)
			continue
		}
		ctx := req.Context
		if ctx == nil {
			ctx = context.Background()
		}
		var pubErr error
		if req.PayloadBytes == nil {
			pubErr = b.PublishJSON(ctx, req.Topic, req.Qos, req.Retain, req.Payload)
		} else {
			pubErr = b.Publish(ctx, req.Topic, req.Qos, req.Retain, req.PayloadBytes)
		}
		if pubErr != nil {
			logging.Error("onConnect publish failed", "clientName", b.config.ClientName, "id", id, "topic", req.Topic, "error", pubErr)
		}
	}
}

func (b *MsgBroker) IsConnected() bool {
	if b.client == nil {
		return false
	}
	return b.client.IsConnected()
}

func (b *MsgBroker) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	// Graceful disconnect with short timeout
	done := make(chan struct{})
	go func() {
		// 250 ms quiesce period
		b.client.Disconnect(250)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MsgBroker) Topic(parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if b.config.TopicPrefix != "" {
		all = append(all, strings.Trim(b.config.TopicPrefix, "/"))
	}
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			all = append(all, p)
		}
	}
	return strings.Join(all, "/")
}

func (b *MsgBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	if b.client == nil {
		return ErrNotInitialized
	}
	if topic == "" {
		return ErrInvalidTopic
	}
	qosByte, wait := qosToByte(qos)
	token := b.client.Publish(topic, qosByte, retain, payload)
	if !wait {
		return nil
	}
	timeout := b.config.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("publish timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func qosToByte(qos QoS) (byte, bool) {
	if qos > 2 {
		return 0, false
	}
	return byte(qos), true
}

func (b *MsgBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, topic, qos, retain, data)
}

// Subscribe registers handler and waits for SUBACK with timeout
func (b *MsgBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler Handler) (Subscription, error) {
	if b.client == nil {
		return nil, ErrNotInitialized
	}
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	// wrapper that converts paho message to our handler and logs panics without crashing.
	// Runs on paho's ordered callback, so messages reach the handler in arrival order.
	onMessageHandler := func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("mqtt handler panic", "clientName", b.config.ClientName, "topic", msg.Topic(), "err", r)
			}
		}()
		handler(ctx, msg.Topic(), msg.Payload())
	}
	qosByte, _ := qosToByte(qos)
	token := b.client.Subscribe(topic, qosByte, onMessageHandler)

	timeout := b.config.SubscribeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}

		b.mu.Lock()
		b.subs[topic] = subscription{qos: qos, handler: onMessageHandler}
		b.mu.Unlock()

		return &msgSubscription{broker: b, topic: topic}, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("subscribe timeout for %s", topic)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// subscription wrapper
type msgSubscription struct {
	broker *MsgBroker
	topic  string
}

func (s *msgSubscription) Topic() string { return s.topic }

func (s *msgSubscription) Unsubscribe(ctx context.Context) error {
	b := s.broker
	b.mu.Lock()
	delete(b.subs, s.topic)
	b.mu.Unlock()

	token := b.client.Unsubscribe(s.topic)
	timeout := 3 * time.Second
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("unsubscribe timeout for %s", s.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}
