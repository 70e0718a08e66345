package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/Lllllllleong/flipbookflow/internal/services"
	"github.com/spf13/cobra"
)

var (
	convertBucket     string
	convertObject     string
	convertDocumentID string
	convertUserID     string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Replay an upload through the configured conversion strategy",
	Long: `Build the upload notification the storage trigger would send and process it
with the deployed configuration (STRATEGY, PROJECT_ID, ...). The document record
must exist and be in uploading for any work to happen.`,
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVar(&convertBucket, "bucket", "", "bucket holding the upload (required)")
	convertCmd.Flags().StringVar(&convertObject, "object", "", "object path of the upload, defaults to {UPLOAD_PREFIX}{user}/{document}.pdf")
	convertCmd.Flags().StringVar(&convertDocumentID, "document", "", "document ID (required)")
	convertCmd.Flags().StringVar(&convertUserID, "user", "", "owner user ID (required)")
	_ = convertCmd.MarkFlagRequired("bucket")
	_ = convertCmd.MarkFlagRequired("document")
	_ = convertCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	converter, err := services.NewConverter(ctx)
	if err != nil {
		return err
	}

	object := convertObject
	if object == "" {
		object = converter.UploadPath(convertUserID, convertDocumentID)
	}
	return converter.Process(ctx, models.UploadNotification{
		Bucket:   convertBucket,
		Name:     object,
		Metadata: models.UploadMetadata{DocumentID: convertDocumentID, UserID: convertUserID},
	})
}
