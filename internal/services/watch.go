package services

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/flipbookflow/internal/models"
)

// WaitForTerminal follows a document record until it reaches ready or error.
// onChange, when set, sees every intermediate record.
func WaitForTerminal(ctx context.Context, statuses StatusStore, documentID string, onChange func(*models.Document)) (*models.Document, error) {
	var final *models.Document
	err := statuses.Subscribe(ctx, documentID, func(doc *models.Document) bool {
		if onChange != nil {
			onChange(doc)
		}
		if doc.Status.Terminal() {
			final = doc
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if final == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("stopped watching %s before it finished", documentID)
	}
	return final, nil
}
