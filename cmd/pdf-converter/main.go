package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/Lllllllleong/flipbookflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	converterInstance *services.ConverterFunction
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Triggered by google.cloud.storage.object.v1.finalized on the upload bucket.
	functions.CloudEvent("ConvertPdf", convertPdf)
}

// main is required by the Go Functions Framework.
func main() {}

func convertPdf(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		converterInstance, initErr = services.NewConverter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var n models.UploadNotification
	if err := e.DataAs(&n); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("decode storage event: %w", err)
	}

	// Errors are logged with context inside Process.
	return converterInstance.Process(ctx, n)
}
