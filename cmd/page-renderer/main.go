package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/flipbookflow/internal/services"
)

var (
	rendererInstance *services.RendererFunction
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleConvert", handleConvert)
}

// main is required by the Go Functions Framework.
func main() {}

// handleConvert serves POST /convert for the remote strategy and the retry
// workflow.
func handleConvert(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		rendererInstance, initErr = services.NewRenderer(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	rendererInstance.ServeHTTP(w, r)
}
