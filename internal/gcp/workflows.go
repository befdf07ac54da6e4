package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// WorkflowConfig names the Cloud Workflow started when OCR output is ready.
type WorkflowConfig struct {
	ProjectID  string
	Location   string
	WorkflowID string
}

func (c WorkflowConfig) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", c.ProjectID, c.Location, c.WorkflowID)
}

// WorkflowHandoff starts one workflow execution per document.
type WorkflowHandoff struct {
	client *executions.Client
	config WorkflowConfig
	logger *slog.Logger
}

func NewWorkflowHandoff(ctx context.Context, cfg WorkflowConfig, logger *slog.Logger) (*WorkflowHandoff, error) {
	if cfg.ProjectID == "" || cfg.WorkflowID == "" {
		return nil, fmt.Errorf("workflow project and id must be set")
	}
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowHandoff{client: client, config: cfg, logger: logger}, nil
}

func (h *WorkflowHandoff) OCRReady(ctx context.Context, req models.HandoffRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := h.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: h.config.parent(),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	h.logger.Info("Workflow execution started.", "documentId", req.DocumentID, "execution", exec.GetName())
	return nil
}

func (h *WorkflowHandoff) Close() error {
	return h.client.Close()
}
