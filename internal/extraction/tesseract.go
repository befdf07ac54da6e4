package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// TesseractEngine extracts text with Tesseract. Page payloads are single-page
// PDFs and are rasterized with MuPDF first.
type TesseractEngine struct {
	clientFactory func() *gosseract.Client
	languages     []string
	dpi           float64
}

// NewTesseractEngine builds an engine for the given languages (default "eng").
func NewTesseractEngine(dpi float64, languages ...string) *TesseractEngine {
	if dpi <= 0 {
		dpi = 300
	}
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractEngine{clientFactory: gosseract.NewClient, languages: languages, dpi: dpi}
}

func (e *TesseractEngine) Extract(ctx context.Context, task SegmentTask) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	img := task.Payload
	if task.Kind == KindPage {
		rendered, err := e.renderPage(task.Payload)
		if err != nil {
			return Result{}, err
		}
		img = rendered
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.languages...); err != nil {
		return Result{}, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(int(e.dpi))); err != nil {
		return Result{}, fmt.Errorf("set dpi: %w", err)
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return Result{}, fmt.Errorf("recognize text: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return Result{}, fmt.Errorf("word boxes: %w", err)
	}
	fragments := make([]models.TextFragment, 0, len(boxes))
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		fragments = append(fragments, models.TextFragment{
			Text: b.Word,
			Page: task.Page,
			Box: models.BoundingBox{
				X:      float64(b.Box.Min.X),
				Y:      float64(b.Box.Min.Y),
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
			Confidence: b.Confidence / 100.0,
		})
	}

	return Result{
		Index:     task.Index,
		Page:      task.Page,
		Text:      strings.TrimSpace(text),
		Fragments: fragments,
	}, nil
}

// renderPage rasterizes the first page of a PDF payload to PNG.
func (e *TesseractEngine) renderPage(pdf []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("page payload has no pages")
	}
	img, err := doc.ImageDPI(0, e.dpi)
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	return buf.Bytes(), nil
}
