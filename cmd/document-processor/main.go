// Command document-processor is a Cloud Function triggered by uploads to the
// intake bucket. It registers each new object as a document and runs it
// through the pipeline, publishing progress over the shared bus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentintake/internal/app"
	"github.com/Lllllllleong/documentintake/internal/config"
	"github.com/Lllllllleong/documentintake/internal/models"
	"github.com/Lllllllleong/documentintake/internal/services"
)

// gcsEvent is the payload of a storage object finalize event.
type gcsEvent struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata"`
}

var (
	core    *app.App
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ProcessUpload", processUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func initialize() {
	cfg := config.Load()
	cfg.Store.Objects = config.BackendGCS
	if err := cfg.Validate(); err != nil {
		initErr = err
		return
	}
	core, initErr = app.New(context.Background(), cfg, slog.Default(), app.Options{})
}

func processUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(initialize)
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var evt gcsEvent
	if err := json.Unmarshal(e.Data(), &evt); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	logCtx := slog.With("gcsBucket", evt.Bucket, "gcsObject", evt.Name)

	if evt.Bucket != core.Config.Store.UploadsBucket {
		logCtx.Warn("Ignoring object from unexpected bucket.")
		return nil
	}
	if evt.Metadata["documentId"] != "" {
		// Written by the intake server, which already owns this document.
		logCtx.Info("Object already registered, skipping.", "documentId", evt.Metadata["documentId"])
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	data, err := core.Objects.GetBytes(ctx, evt.Name)
	if err != nil {
		return err
	}

	doc, err := core.Pipeline.Register(ctx, services.UploadRequest{
		Filename:    path.Base(evt.Name),
		MimeType:    services.DetectMimeType(evt.Name, evt.ContentType),
		UserID:      evt.Metadata["userId"],
		Data:        data,
		StoragePath: evt.Name,
	})
	var dup *models.DuplicateError
	if errors.As(err, &dup) {
		logCtx.Info("Duplicate upload, nothing to do.", "existingDocId", dup.ExistingID)
		return nil
	}
	if err != nil {
		return err
	}

	logCtx = logCtx.With("documentId", doc.ID)
	if err := core.Pipeline.Process(ctx, doc.ID); err != nil {
		// The failure is already recorded on the document.
		logCtx.Error("Document processing failed.", "error", err)
		return err
	}
	logCtx.Info("Document processed.")
	return nil
}
