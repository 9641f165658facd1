package roommap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/roomdash/logger"
)

// Publisher pushes live snapshots to MQTT. Each snapshot goes out as one
// retained message so the map and path always arrive together.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// NewPublisher creates a snapshot publisher under prefix.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
	}
}

// SnapshotTopic is the topic carrying the combined (map, path) state.
func (p *Publisher) SnapshotTopic() string {
	return p.publishPrefix + "/snapshot"
}

// RemapTopic carries remap session changes.
func (p *Publisher) RemapTopic() string {
	return p.publishPrefix + "/remap"
}

// PublishSnapshot publishes s to the snapshot topic.
func (p *Publisher) PublishSnapshot(s Snapshot) error {
	return p.publishJSON(p.SnapshotTopic(), s)
}

// PublishRemap publishes a remap session state.
func (p *Publisher) PublishRemap(s RemapSession) error {
	return p.publishJSON(p.RemapTopic(), s)
}

func (p *Publisher) publishJSON(topic string, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// Run publishes every snapshot from snaps until ctx is done or the channel
// closes. Publish failures are logged and the next snapshot is tried.
func (p *Publisher) Run(ctx context.Context, snaps <-chan Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snaps:
			if !ok {
				return
			}
			if err := p.PublishSnapshot(s); err != nil {
				logger.Log.WithError(err).WithField("seq", s.Seq).Debug("snapshot not published")
			}
		}
	}
}
