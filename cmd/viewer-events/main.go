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
	viewerEventsInstance *services.ViewerEventsFunction
	once                 sync.Once
	initErr              error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("RecordViewerEvents", recordViewerEvents)
}

// main is required by the Go Functions Framework.
func main() {}

func recordViewerEvents(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		viewerEventsInstance, initErr = services.NewViewerEvents(context.Background())
	})
	if initErr != nil {
		// Viewers never see analytics failures.
		slog.Error("Critical error during function initialization", "error", initErr)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	viewerEventsInstance.ServeHTTP(w, r)
}
