package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/nodewatch/internal/infrastructure/config"
	"github.com/nerrad567/nodewatch/internal/supervisor"
)

// connectTimeout bounds the initial ping.
const connectTimeout = 10 * time.Second

// Logger defines the logging interface for the metrics client.
type Logger interface {
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Client writes supervisor cycle metrics to InfluxDB.
//
// One point per state transition goes to the nodewatch_state measurement;
// completed cycles additionally record the child's uptime, so dashboards can
// graph restart frequency and time-between-failures.
//
// Writes are non-blocking and batched by the underlying client; async write
// errors are logged at warning level. The client implements
// supervisor.Recorder.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   Logger
}

// Connect establishes a connection to the InfluxDB server.
//
// Parameters:
//   - cfg: Metrics configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrDisabled if metrics are off, ErrConnectionFailed otherwise
func Connect(cfg config.MetricsConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   noopLogger{},
	}

	go c.handleWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// handleWriteErrors logs async write failures from the batching writer.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.logger.Warn("metrics write failed", "error", err)
	}
}

// Record writes a supervisor event as a measurement point. Implements
// supervisor.Recorder. Non-blocking; never returns an error to the loop.
func (c *Client) Record(ev supervisor.Event) {
	c.writeAPI.WritePoint(eventPoint(ev))
}

// eventPoint converts a supervisor event into a line-protocol point.
// Uptime is only meaningful on cycle completion, so zero uptime is omitted
// rather than written as a misleading field.
func eventPoint(ev supervisor.Event) *write.Point {
	fields := map[string]interface{}{
		"restart_count": ev.RestartCount,
	}
	if ev.Uptime > 0 {
		fields["uptime_seconds"] = ev.Uptime.Seconds()
	}

	return write.NewPoint(
		"nodewatch_state",
		map[string]string{
			"state": string(ev.State),
		},
		fields,
		ev.Time,
	)
}

// Close flushes pending points and releases the client.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}
