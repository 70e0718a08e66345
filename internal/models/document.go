package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDocumentNotFound is returned when no record exists for a document ID.
	ErrDocumentNotFound = errors.New("document record not found")
	// ErrInvalidTransition is returned when a status change would move a
	// record backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a document record.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusConverting Status = "converting"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Field paths written by the conversion pipeline. Everything else on the
// record belongs to other writers and is never touched here.
const (
	FieldStatus            = "status"
	FieldPageCount         = "pageCount"
	FieldPageURLs          = "pageUrls"
	FieldPDFURL            = "pdfUrl"
	FieldUpdatedAt         = "updatedAt"
	FieldReconcileAttempts = "reconcileAttempts"
)

var transitions = map[Status][]Status{
	StatusUploading:  {StatusConverting, StatusError},
	StatusConverting: {StatusReady, StatusError},
}

// CanTransitionTo reports whether moving from s to next is a forward step.
// Terminal states have no outgoing transitions.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckTransition decides whether a status write should be applied. Writing
// the current status again is a no-op, which makes repeated transitions
// idempotent; any other non-forward move is an ErrInvalidTransition.
func CheckTransition(current, next Status) (bool, error) {
	if current == next {
		return false, nil
	}
	if !current.CanTransitionTo(next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return true, nil
}

// Terminal reports whether s is ready or error.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// Document is the per-upload record in Firestore. The conversion pipeline only
// mutates it through field-path updates.
type Document struct {
	DocumentID        string    `firestore:"documentId"`
	UserID            string    `firestore:"userId"`
	Title             string    `firestore:"title,omitempty"`
	Status            Status    `firestore:"status"`
	PageCount         int       `firestore:"pageCount"`
	PageURLs          []string  `firestore:"pageUrls"`
	PDFURL            string    `firestore:"pdfUrl,omitempty"`
	Published         bool      `firestore:"published"`
	ReconcileAttempts int       `firestore:"reconcileAttempts,omitempty"`
	CreatedAt         time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt         time.Time `firestore:"updatedAt,omitempty"`
}

// PagePath is the object path of a rendered page. Page numbers are 1-based
// and zero-padded so a lexical listing is already in page order.
func PagePath(userID, documentID string, page int) string {
	return fmt.Sprintf("%spage_%03d.jpg", PagePrefix(userID, documentID), page)
}

// PagePrefix is the directory holding every page image of a document.
func PagePrefix(userID, documentID string) string {
	return fmt.Sprintf("documents/%s/%s/pages/", userID, documentID)
}

// UploadPath is where the upload form stores the source PDF.
func UploadPath(prefix, userID, documentID string) string {
	return fmt.Sprintf("%s%s/%s.pdf", prefix, userID, documentID)
}
