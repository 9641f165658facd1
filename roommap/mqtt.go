package roommap

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/kwv/roomdash/logger"
)

// StatusHandler receives every robot status seen on the status topic.
type StatusHandler func(status RobotStatus)

// MQTTClient manages the broker connection and the robot status subscription.
type MQTTClient struct {
	client      mqtt.Client
	statusTopic string
	onStatus    StatusHandler
	isConnected bool
	mu          sync.RWMutex
}

// NewMQTTClient builds a client from cfg. It returns nil, nil when no
// broker is configured, which disables MQTT.
func NewMQTTClient(cfg MQTTConfig, onStatus StatusHandler) (*MQTTClient, error) {
	if cfg.Broker == "" {
		logger.Log.Info("MQTT disabled: no broker configured")
		return nil, nil
	}

	c := &MQTTClient{
		statusTopic: cfg.StatusTopic,
		onStatus:    onStatus,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Status transitions must reach the engine in order.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Log.Debug("MQTT reconnecting")
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// newMQTTClientWithMock wraps an existing mqtt.Client (tests).
func newMQTTClientWithMock(client mqtt.Client, statusTopic string, onStatus StatusHandler) *MQTTClient {
	return &MQTTClient{
		client:      client,
		statusTopic: statusTopic,
		onStatus:    onStatus,
	}
}

// Start connects in the background, retrying with exponential backoff
// until the connection succeeds or stop is closed.
func (c *MQTTClient) Start(stop <-chan struct{}) {
	go c.connectWithRetry(stop)
}

func (c *MQTTClient) connectWithRetry(stop <-chan struct{}) {
	retryDelay := time.Second
	maxRetryDelay := 60 * time.Second

	for {
		logger.Log.Info("connecting to MQTT broker")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.setConnected(true)
				return
			}
			logger.Log.WithError(token.Error()).Warn("MQTT connection failed")
		} else {
			logger.Log.Warn("MQTT connection timeout")
		}

		logger.Log.WithField("delay", retryDelay).Info("retrying MQTT connection")
		select {
		case <-stop:
			return
		case <-time.After(retryDelay):
		}
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.statusTopic == "" {
		return
	}

	token := client.Subscribe(c.statusTopic, 0, c.statusMessageHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		logger.Log.WithError(token.Error()).WithField("topic", c.statusTopic).Error("subscribe failed")
		return
	}
	logger.Log.WithField("topic", c.statusTopic).Info("subscribed to robot status")
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	logger.Log.WithError(err).Warn("MQTT connection interrupted, auto-reconnect will retry")
	c.setConnected(false)
}

type statePayload struct {
	Value string `json:"value"`
}

// ParseStatusPayload accepts {"value": "cleaning"}, a JSON string, or a raw
// string. It returns false for an empty payload.
func ParseStatusPayload(payload []byte) (RobotStatus, bool) {
	var state statePayload
	if err := json.Unmarshal(payload, &state); err == nil && state.Value != "" {
		return RobotStatus(strings.ToLower(state.Value)), true
	}
	var plain string
	if err := json.Unmarshal(payload, &plain); err == nil && plain != "" {
		return RobotStatus(strings.ToLower(plain)), true
	}
	raw := strings.TrimSpace(string(payload))
	if raw == "" || strings.HasPrefix(raw, "{") {
		return "", false
	}
	return RobotStatus(strings.ToLower(raw)), true
}

func (c *MQTTClient) statusMessageHandler() mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		status, ok := ParseStatusPayload(msg.Payload())
		if !ok {
			logger.Log.WithField("topic", msg.Topic()).Debug("empty status payload, skipping")
			return
		}
		logger.Log.WithFields(logrus.Fields{
			"topic":  msg.Topic(),
			"status": status,
		}).Debug("robot status")
		if c.onStatus != nil {
			c.onStatus(status)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		logger.Log.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying client for publishing.
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}
