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
	sweeperInstance *services.SweeperFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Invoked by Cloud Scheduler.
	functions.HTTP("HandleSweep", handleSweep)
}

// main is required by the Go Functions Framework.
func main() {}

func handleSweep(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		sweeperInstance, initErr = services.NewSweeper(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	sweeperInstance.ServeHTTP(w, r)
}
