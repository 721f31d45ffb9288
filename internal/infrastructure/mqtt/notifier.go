package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/nodewatch/internal/infrastructure/config"
	"github.com/nerrad567/nodewatch/internal/supervisor"
)

// Timeouts for MQTT operations.
const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds granted to flush on Close
)

// Logger defines the logging interface for the notifier.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// Notifier publishes supervisor state transitions to an MQTT broker so a
// dashboard or home-automation core can observe the worker without shell
// access to the host.
//
// Topics, under the configured prefix and client ID:
//
//	<prefix>/<client_id>/status  retained "online"/"offline" (LWT)
//	<prefix>/<client_id>/state   retained JSON of the latest transition
//
// The notifier implements supervisor.Recorder. Publishes are best-effort:
// a broker outage is logged and skipped, never blocking the loop beyond the
// publish timeout.
type Notifier struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	logger Logger
}

// statePayload is the JSON document published on every transition.
type statePayload struct {
	State        string  `json:"state"`
	Detail       string  `json:"detail,omitempty"`
	RestartCount int     `json:"restart_count"`
	UptimeSecs   float64 `json:"uptime_seconds,omitempty"`
	Timestamp    string  `json:"ts"`
}

// Connect establishes a connection to the MQTT broker.
//
// It configures a Last Will and Testament so the broker flips the status
// topic to "offline" if the supervisor dies without a clean disconnect,
// enables auto-reconnect, and publishes the initial "online" status.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Notifier: Connected notifier ready for use
//   - error: If the initial connection fails within the timeout
func Connect(cfg config.MQTTConfig) (*Notifier, error) {
	n := &Notifier{cfg: cfg, logger: noopLogger{}}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetWill(n.topic("status"), "offline", byte(cfg.QoS), true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	n.client = client

	if err := n.publish(n.topic("status"), []byte("online"), true); err != nil {
		n.logger.Warn("failed to publish online status", "error", err)
	}

	return n, nil
}

// SetLogger sets the logger for the notifier.
func (n *Notifier) SetLogger(logger Logger) {
	n.logger = logger
}

// Record publishes a supervisor event. Implements supervisor.Recorder.
// Failures are logged and swallowed.
func (n *Notifier) Record(ev supervisor.Event) {
	payload, err := json.Marshal(statePayload{
		State:        string(ev.State),
		Detail:       ev.Detail,
		RestartCount: ev.RestartCount,
		UptimeSecs:   ev.Uptime.Seconds(),
		Timestamp:    ev.Time.UTC().Format(time.RFC3339),
	})
	if err != nil {
		n.logger.Warn("failed to encode state payload", "error", err)
		return
	}

	if err := n.publish(n.topic("state"), payload, true); err != nil {
		n.logger.Warn("failed to publish state transition", "state", string(ev.State), "error", err)
	}
}

// publish sends one retained-or-not message with the configured QoS.
func (n *Notifier) publish(topic string, payload []byte, retained bool) error {
	if n.client == nil || !n.client.IsConnected() {
		return ErrNotConnected
	}

	token := n.client.Publish(topic, byte(n.cfg.QoS), retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// topic builds "<prefix>/<client_id>/<leaf>".
func (n *Notifier) topic(leaf string) string {
	return fmt.Sprintf("%s/%s/%s", n.cfg.TopicPrefix, n.cfg.ClientID, leaf)
}

// Close publishes the offline status and disconnects cleanly.
func (n *Notifier) Close() error {
	if n.client == nil {
		return nil
	}
	if err := n.publish(n.topic("status"), []byte("offline"), true); err != nil {
		n.logger.Debug("failed to publish offline status", "error", err)
	}
	n.client.Disconnect(disconnectQuiesce)
	return nil
}
