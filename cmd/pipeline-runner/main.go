package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/granuleflow/internal/services"
)

var (
	runnerInstance *services.PipelineFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleRunPipeline" is the entry point name configured in GCP.
	functions.HTTP("HandleRunPipeline", handleRunPipeline)
}

// main is required by the Go Functions Framework.
func main() {}

func handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		runnerInstance, initErr = services.NewPipelineFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: pipeline runner initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	runnerInstance.ServeHTTP(w, r)
}
