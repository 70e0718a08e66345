package models

// These structs define the event and JSON payloads exchanged between the
// trigger, the converter, the remote renderer and the viewer.

// UploadMetadata is the custom metadata attached by the upload form.
type UploadMetadata struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

// UploadNotification is the data of a storage object finalized event.
type UploadNotification struct {
	Bucket   string         `json:"bucket"`
	Name     string         `json:"name"`
	Metadata UploadMetadata `json:"metadata"`
}

// SourceRef locates a source PDF in object storage.
type SourceRef struct {
	Bucket string
	Path   string
}

// ConversionJob is one document's conversion request, independent of strategy.
type ConversionJob struct {
	DocumentID string
	UserID     string
	Source     SourceRef
}

// ConvertRequest is the body of POST {converterBaseUrl}/convert.
type ConvertRequest struct {
	BucketName string `json:"bucketName"`
	FilePath   string `json:"filePath"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

// Job converts the request into a strategy-independent job.
func (r ConvertRequest) Job() ConversionJob {
	return ConversionJob{
		DocumentID: r.DocumentID,
		UserID:     r.UserID,
		Source:     SourceRef{Bucket: r.BucketName, Path: r.FilePath},
	}
}

// NewConvertRequest builds the remote request for a job.
func NewConvertRequest(job ConversionJob) ConvertRequest {
	return ConvertRequest{
		BucketName: job.Source.Bucket,
		FilePath:   job.Source.Path,
		DocumentID: job.DocumentID,
		UserID:     job.UserID,
	}
}

// ConvertResponse is returned by the renderer on success.
type ConvertResponse struct {
	Status    Status `json:"status"`
	PageCount int    `json:"pageCount"`
}

// ViewerEventType names a viewer analytics event.
type ViewerEventType string

const (
	EventViewerOpened ViewerEventType = "viewer_opened"
	EventPageTurned   ViewerEventType = "page_turned"
	EventSessionEnded ViewerEventType = "session_ended"
)

// ViewerEvent is one analytics record. Pointer fields are stored as null when
// they do not apply to the event type.
type ViewerEvent struct {
	DocumentID   string          `firestore:"documentId" json:"documentId"`
	UserID       string          `firestore:"userId" json:"userId,omitempty"`
	EventType    ViewerEventType `firestore:"eventType" json:"eventType"`
	PageNumber   *int            `firestore:"pageNumber" json:"pageNumber,omitempty"`
	PagesReached *int            `firestore:"pagesReached" json:"pagesReached,omitempty"`
	SessionID    string          `firestore:"sessionId" json:"sessionId"`
}

// ViewerEventBatch is what the viewer posts when it flushes its queue.
type ViewerEventBatch struct {
	DocumentID string             `json:"documentId"`
	SessionID  string             `json:"sessionId"`
	Events     []ViewerBatchEntry `json:"events"`
}

// ViewerBatchEntry is a single queued event inside a batch. PagesReached is
// only meaningful on session_ended.
type ViewerBatchEntry struct {
	EventType    ViewerEventType `json:"eventType"`
	PageNumber   int             `json:"pageNumber,omitempty"`
	PagesReached int             `json:"pagesReached,omitempty"`
}
