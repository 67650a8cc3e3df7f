package realtime

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Event names understood by the live "recent reports" rail.
const (
	EventNewRecentReport     = "newRecentReport"
	EventUpdatedRecentReport = "updatedRecentReport"
)

// subjectPrefix namespaces our events on the shared NATS server.
const subjectPrefix = "scanshare.events."

// ReportPayload is the wire format for recent-report events.
type ReportPayload struct {
	Slug          string `json:"slug"`
	DisplayURL    string `json:"displayUrl"`
	Domain        string `json:"domain"`
	SecurityScore int    `json:"securityScore"`
	ScoreColor    string `json:"scoreColor"`
	TimeAgo       string `json:"timeAgo"`
	HasAI         bool   `json:"hasAI"`
}

// Emitter publishes events fire-and-forget. Implementations must never
// block the caller or surface failures; a lost event only delays the
// recent-reports rail until the next page load.
type Emitter interface {
	Emit(event string, payload interface{})
}

// NATSEmitter publishes events to a NATS subject per event name.
type NATSEmitter struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSEmitter connects to the NATS server at url.
func NewNATSEmitter(url string, logger *slog.Logger) (*NATSEmitter, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NATSEmitter{conn: conn, logger: logger}, nil
}

// Emit marshals the payload and publishes it. Errors are logged and dropped.
func (e *NATSEmitter) Emit(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("failed to marshal realtime payload", "event", event, "error", err)
		return
	}
	if err := e.conn.Publish(subjectPrefix+event, data); err != nil {
		e.logger.Warn("failed to publish realtime event", "event", event, "error", err)
	}
}

// Close drains the connection so queued events get flushed on shutdown.
func (e *NATSEmitter) Close() {
	if err := e.conn.Drain(); err != nil {
		e.logger.Warn("failed to drain nats connection", "error", err)
	}
}

// NoopEmitter drops every event. Used when no NATS URL is configured.
type NoopEmitter struct{}

func (NoopEmitter) Emit(event string, payload interface{}) {}
