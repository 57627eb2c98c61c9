package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/services"
)

var (
	triggerInstance *services.TriggerFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("TriggerOnGranule", triggerOnGranule)
}

// main is required by the Go Functions Framework.
func main() {}

// triggerOnGranule receives GCS object-finalized events.
func triggerOnGranule(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		triggerInstance, initErr = services.NewTriggerFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return triggerInstance.Process(ctx, gcsEvent)
}
