// Package extraction runs Segment Tasks (pages, whole images, image tiles)
// through a content-extraction engine on a fixed pool of goroutines.
package extraction

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// SegmentKind identifies what a task's payload holds.
type SegmentKind string

const (
	KindPage       SegmentKind = "page"
	KindWholeImage SegmentKind = "whole-image"
	KindImageTile  SegmentKind = "image-tile"
)

// Offset is the pixel position of a tile inside its source image.
type Offset struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// SegmentTask is one unit of extraction work.
type SegmentTask struct {
	DocumentID string      `json:"documentId"`
	Kind       SegmentKind `json:"kind"`
	// Index is the reading-order position among the document's tasks.
	Index    int    `json:"index"`
	Page     int    `json:"page"`
	Payload  []byte `json:"payload"`
	MimeType string `json:"mimeType"`
	Offset   Offset `json:"offset"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Label is a short human-readable name for the task, used in errors and logs.
func (t SegmentTask) Label() string {
	switch t.Kind {
	case KindImageTile:
		return fmt.Sprintf("tile %d", t.Index+1)
	case KindWholeImage:
		return "image"
	default:
		return fmt.Sprintf("page %d", t.Page)
	}
}

// Result is the output of one task. Fragment boxes are local to the task payload.
type Result struct {
	Index     int                   `json:"index"`
	Page      int                   `json:"page"`
	Text      string                `json:"text"`
	Fragments []models.TextFragment `json:"fragments"`
}

// Engine is the content-extraction engine contract.
type Engine interface {
	Extract(ctx context.Context, task SegmentTask) (Result, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, task SegmentTask) (Result, error)

func (f EngineFunc) Extract(ctx context.Context, task SegmentTask) (Result, error) {
	return f(ctx, task)
}
