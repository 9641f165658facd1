package roommap

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

// mockToken is an already completed mqtt.Token.
type mockToken struct {
	err error
}

func newMockToken(err error) *mockToken { return &mockToken{err: err} }

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Error() error                   { return t.err }

func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishedMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// mockClient is an in-memory mqtt.Client. Subscribe goes through testify's
// mock only after expectSubscribe has been called.
type mockClient struct {
	mock.Mock

	mu              sync.RWMutex
	connected       bool
	connectErr      error
	strictSubscribe bool
	handlers        map[string]mqtt.MessageHandler
	published       []publishedMessage
}

func newMockClient() *mockClient {
	return &mockClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *mockClient) expectSubscribe(topic string, token mqtt.Token) {
	c.mu.Lock()
	c.strictSubscribe = true
	c.mu.Unlock()
	c.On("Subscribe", topic, mock.Anything, mock.Anything).Return(token)
}

func (c *mockClient) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *mockClient) setConnectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *mockClient) messages() []publishedMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]publishedMessage(nil), c.published...)
}

// simulate delivers payload to the handler subscribed on topic.
func (c *mockClient) simulate(topic string, payload []byte) {
	c.mu.RLock()
	h := c.handlers[topic]
	c.mu.RUnlock()
	if h != nil {
		h(c, &mockMessage{topic: topic, payload: payload})
	}
}

func (c *mockClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *mockClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *mockClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return newMockToken(c.connectErr)
	}
	c.connected = true
	return newMockToken(nil)
}

func (c *mockClient) Disconnect(uint) {
	c.setConnected(false)
}

func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return newMockToken(mqtt.ErrNotConnected)
	}
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	}
	c.published = append(c.published, publishedMessage{Topic: topic, Payload: b, QoS: qos, Retain: retained})
	return newMockToken(nil)
}

func (c *mockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handlers[topic] = callback
	strict := c.strictSubscribe
	c.mu.Unlock()

	if strict {
		return c.Called(topic, qos, callback).Get(0).(mqtt.Token)
	}
	return newMockToken(nil)
}

func (c *mockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic := range filters {
		c.Subscribe(topic, filters[topic], callback)
	}
	return newMockToken(nil)
}

func (c *mockClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return newMockToken(nil)
}

func (c *mockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
}

func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 0 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}
