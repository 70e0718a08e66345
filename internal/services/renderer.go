package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/Lllllllleong/flipbookflow/internal/render"
)

// RendererFunction is the remote side of the delegate strategy: it renders
// locally and owns the terminal status write. Callers are authenticated by
// the platform before requests reach it.
type RendererFunction struct {
	statuses  StatusStore
	converter *ConverterFunction
}

// NewRenderer wires the renderer from the environment. It always renders
// in-process regardless of STRATEGY.
func NewRenderer(ctx context.Context) (*RendererFunction, error) {
	cfg, err := LoadPipelineConfig()
	if err != nil {
		return nil, err
	}
	engineCfg, err := EngineConfigFromEnv()
	if err != nil {
		return nil, err
	}
	statuses, err := NewStatusStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	buckets, err := NewBuckets(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine := NewLocalEngine(buckets, render.NewFitzRasterizer(), render.NewJPEGEncoder(), engineCfg)
	slog.Info("Page renderer initialized.", "collection", cfg.CollectionName, "concurrency", engineCfg.Concurrency)
	return NewRendererFunction(statuses, buckets, engine, cfg), nil
}

func NewRendererFunction(statuses StatusStore, buckets BucketFunc, engine ConversionStrategy, config PipelineConfig) *RendererFunction {
	return &RendererFunction{
		statuses:  statuses,
		converter: NewConverterFunction(statuses, buckets, engine, config),
	}
}

// Process converts the requested document. A document that already finished
// is answered from its record without rendering again.
func (f *RendererFunction) Process(ctx context.Context, req models.ConvertRequest) (*models.ConvertResponse, error) {
	job, err := f.converter.ValidateJob(req.Job())
	if err != nil {
		return nil, err
	}
	logCtx := slog.With("documentId", job.DocumentID, "userId", job.UserID)

	doc, err := f.statuses.Get(ctx, job.DocumentID)
	if err != nil {
		logCtx.Error("Failed to read document record.", "error", err)
		return nil, err
	}
	if doc.Status == models.StatusUploading {
		owned, err := f.converter.Claim(ctx, logCtx, job)
		if err != nil {
			return nil, err
		}
		if !owned {
			if doc, err = f.statuses.Get(ctx, job.DocumentID); err != nil {
				return nil, err
			}
		}
	}
	if doc.Status.Terminal() {
		logCtx.Info("Document already finished.", "status", doc.Status)
		return &models.ConvertResponse{Status: doc.Status, PageCount: doc.PageCount}, nil
	}

	res, err := f.converter.Execute(ctx, job)
	if err != nil {
		return nil, err
	}
	return &models.ConvertResponse{Status: models.StatusReady, PageCount: res.PageCount}, nil
}

// ServeHTTP answers POST /convert. Malformed requests get 400 without any
// status write; conversion failures get 500 after the record is set to error.
func (f *RendererFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body.", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := f.Process(r.Context(), req)
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		slog.Warn("Rejected convert request.", "reason", validation.Reason)
		http.Error(w, "Bad Request: "+validation.Reason, http.StatusBadRequest)
		return
	case errors.Is(err, models.ErrDocumentNotFound):
		http.Error(w, "Not Found: no document record", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "Internal Server Error: conversion failed", http.StatusInternalServerError)
		return
	case res.Status == models.StatusError:
		http.Error(w, "Internal Server Error: document is in error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}
