package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// PageSplitter breaks a PDF into one single-page PDF per page, in page order.
type PageSplitter interface {
	Split(ctx context.Context, pdf []byte) ([][]byte, error)
}

// PDFCPUSplitter splits PDFs with pdfcpu in a scratch directory.
type PDFCPUSplitter struct {
	logger *slog.Logger
}

func NewPDFCPUSplitter(logger *slog.Logger) *PDFCPUSplitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFCPUSplitter{logger: logger}
}

func (s *PDFCPUSplitter) Split(ctx context.Context, pdf []byte) ([][]byte, error) {
	if len(pdf) == 0 {
		return nil, &models.ValidationError{Field: "payload", Message: "empty PDF"}
	}
	tempDir, err := os.MkdirTemp("", "pdf-splitter-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePdfPath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write source PDF: %w", err)
	}

	optimizedPdfPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePdfPath, optimizedPdfPath); err != nil {
		return nil, &models.ValidationError{Field: "payload", Message: fmt.Sprintf("failed to validate/optimize PDF: %v", err)}
	}
	pageCount, err := api.PageCountFile(optimizedPdfPath)
	if err != nil {
		return nil, &models.ValidationError{Field: "payload", Message: fmt.Sprintf("failed to get page count: %v", err)}
	}
	if pageCount == 0 {
		return nil, &models.ValidationError{Field: "payload", Message: "PDF has no pages"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := api.SplitFile(optimizedPdfPath, tempDir, 1, nil); err != nil {
		return nil, fmt.Errorf("failed to split PDF: %w", err)
	}

	// pdfcpu names span-1 output files <base>_<page>.pdf.
	splitFileBase := strings.TrimSuffix(optimizedPdfPath, filepath.Ext(optimizedPdfPath))
	pages := make([][]byte, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		b, err := os.ReadFile(fmt.Sprintf("%s_%d.pdf", splitFileBase, i))
		if err != nil {
			return nil, fmt.Errorf("page %d: failed to read split output: %w", i, err)
		}
		pages = append(pages, b)
	}
	s.logger.Debug("PDF optimized and split locally.", "pageCount", pageCount)
	return pages, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

// FileHash is the hex sha256 of data, used for duplicate detection.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
