package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOrdering(t *testing.T) {
	assert.True(t, StatusCompleted.AtLeast(StatusOCRCompleted))
	assert.True(t, StatusOCRCompleted.AtLeast(StatusOCRCompleted))
	assert.False(t, StatusUploaded.AtLeast(StatusOCRCompleted))
	assert.False(t, StatusFailed.AtLeast(StatusQueued))

	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusMapping.Terminal())

	assert.True(t, StatusFailed.Valid())
	assert.False(t, Status("archived").Valid())
}

func TestEventWireShape(t *testing.T) {
	evt := NewEvent("doc-1", "user-9", ProgressData{Status: StatusOCRProcessing, Stage: "ocr", Progress: 55, Timestamp: time.Unix(0, 0).UTC()})

	b, err := json.Marshal(evt)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "progress_updated", raw["type"])
	assert.Equal(t, "doc-1", raw["documentId"])
	assert.Equal(t, "user-9", raw["userId"])
	assert.Equal(t, float64(55), raw["data"].(map[string]any)["progress"])

	var back Event
	require.NoError(t, json.Unmarshal(b, &back))
	data, ok := back.Data.(ProgressData)
	require.True(t, ok, "payload decoded as %T", back.Data)
	assert.Equal(t, 55, data.Progress)
}

func TestEventUnmarshalRejectsUnknownType(t *testing.T) {
	var evt Event
	err := json.Unmarshal([]byte(`{"type":"exploded","documentId":"d","data":{}}`), &evt)
	assert.Error(t, err)
}

func TestEventMarshalWithoutDataFails(t *testing.T) {
	_, err := json.Marshal(Event{DocumentID: "d"})
	assert.Error(t, err)
}

func TestBoundingBoxClip(t *testing.T) {
	box := BoundingBox{X: 1400, Y: -5, Width: 200, Height: 30}.Clip(1500, 1000)
	assert.Equal(t, BoundingBox{X: 1400, Y: 0, Width: 100, Height: 25}, box)
}

func TestErrorInfoFrom(t *testing.T) {
	err := fmt.Errorf("pipeline: %w", &ExtractionError{Message: "page 2 extraction failed", Segment: 1, Cause: errors.New("engine crashed")})
	info := ErrorInfoFrom(err)
	require.NotNil(t, info)
	assert.Equal(t, ErrorKindExtraction, info.Kind)
	assert.Equal(t, "page 2 extraction failed", info.Message)
	assert.Equal(t, "engine crashed", info.Detail)

	info = ErrorInfoFrom(&ValidationError{Field: "mimeType", Message: "unsupported"})
	assert.Equal(t, ErrorKindValidation, info.Kind)

	assert.Nil(t, ErrorInfoFrom(nil))
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", &NotFoundError{DocumentID: "a"})))
}

func TestDocumentPatchApplyAndClone(t *testing.T) {
	doc := &Document{ID: "d", State: ProcessingState{Status: StatusQueued, Error: &ErrorInfo{Message: "boom"}}}
	text := "hello"
	DocumentPatch{OCRText: &text, Fragments: []TextFragment{{Text: "hello", Page: 1}}}.Apply(doc)
	assert.Equal(t, "hello", doc.OCRText)
	assert.Len(t, doc.Fragments, 1)

	c := doc.Clone()
	c.State.Error.Message = "changed"
	c.Fragments[0].Text = "changed"
	assert.Equal(t, "boom", doc.State.Error.Message)
	assert.Equal(t, "hello", doc.Fragments[0].Text)
}
