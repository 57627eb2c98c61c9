// Package notify reports pipeline progress and finished products to an
// external logging service. Delivery is best effort: failures are logged and
// never returned to the pipeline.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"
)

const (
	EventTypeLog              = "org.granuleflow.pipeline.log"
	EventTypeProductAvailable = "org.granuleflow.pipeline.product"

	defaultSource = "granuleflow/pipeline"
)

// ProductDetails announces the products registered in one collection. JobID
// carries the pipeline run id.
type ProductDetails struct {
	Collection string   `json:"collection"`
	OGC        string   `json:"ogc"`
	URIs       []string `json:"uris"`
	JobID      string   `json:"job_id"`
}

type logMessage struct {
	Level   string `json:"level"`
	MsgBody string `json:"msg_body"`
}

// Notifier is the contract toward the external logging service.
type Notifier interface {
	Log(ctx context.Context, level, message string)
	ProductAvailable(ctx context.Context, details ProductDetails)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Log(context.Context, string, string)              {}
func (Nop) ProductAvailable(context.Context, ProductDetails) {}

// CloudEventsNotifier posts binary-mode CloudEvents to {host}/log and
// {host}/product, so the HTTP body is the plain JSON payload.
type CloudEventsNotifier struct {
	client  cloudevents.Client
	host    string
	source  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewCloudEventsNotifier(host string, logger *slog.Logger) (*CloudEventsNotifier, error) {
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudEventsNotifier{
		client:  client,
		host:    strings.TrimSuffix(host, "/"),
		source:  defaultSource,
		timeout: 10 * time.Second,
		logger:  logger,
	}, nil
}

func (n *CloudEventsNotifier) Log(ctx context.Context, level, message string) {
	n.send(ctx, "/log", EventTypeLog, logMessage{Level: level, MsgBody: message})
}

func (n *CloudEventsNotifier) ProductAvailable(ctx context.Context, details ProductDetails) {
	n.send(ctx, "/product", EventTypeProductAvailable, details)
}

func (n *CloudEventsNotifier) send(ctx context.Context, path, eventType string, payload any) {
	logCtx := n.logger.With("eventType", eventType, "target", n.host+path)

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(n.source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	if err := event.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		logCtx.Warn("Failed to encode notification.", "error", err)
		return
	}

	// Detached from the run context and bounded by its own timeout.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	sendCtx = cloudevents.ContextWithTarget(sendCtx, n.host+path)

	result := n.client.Send(sendCtx, event)
	if cloudevents.IsUndelivered(result) {
		logCtx.Warn("Failed to deliver notification.", "error", result)
		return
	}
	var httpResult *cehttp.Result
	if cloudevents.ResultAs(result, &httpResult) && httpResult.StatusCode >= 300 {
		logCtx.Warn("Notification rejected.", "status", httpResult.StatusCode)
		return
	}
	logCtx.Debug("Notification delivered.")
}
