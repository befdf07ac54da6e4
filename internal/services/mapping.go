package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// FieldExtractor pulls named fields out of a document's OCR text.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, docType, text string) ([]models.Field, error)
}

// FieldMapper places extracted fields onto target form fields.
type FieldMapper interface {
	MapFields(ctx context.Context, req models.MappingRequest) (*models.MappingResponse, error)
}

// Handoff notifies downstream consumers that a document's OCR output is ready.
type Handoff interface {
	OCRReady(ctx context.Context, req models.HandoffRequest) error
}

// MappingResponseSchema is the JSON schema a mapping response must satisfy.
var MappingResponseSchema = map[string]any{
	"type":     "object",
	"required": []any{"mappedData"},
	"properties": map[string]any{
		"mappedData": map[string]any{
			"type": "object",
			"additionalProperties": map[string]any{
				"type":     "object",
				"required": []any{"value"},
				"properties": map[string]any{
					"value":      map[string]any{"type": "string"},
					"reasoning":  map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
			},
		},
		"unmappedFields": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

// FieldsSchema is the JSON schema for a field extraction response.
var FieldsSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type":     "object",
		"required": []any{"name", "value"},
		"properties": map[string]any{
			"name":       map[string]any{"type": "string", "minLength": 1},
			"value":      map[string]any{"type": "string"},
			"reasoning":  map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
	},
}

// ValidateJSONAgainstSchema validates data against schemaMap.
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// HTTPFieldMapper calls the intelligent mapping endpoint of the form service.
type HTTPFieldMapper struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFieldMapper(baseURL string, timeout time.Duration) *HTTPFieldMapper {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFieldMapper{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (m *HTTPFieldMapper) MapFields(ctx context.Context, req models.MappingRequest) (*models.MappingResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mapping request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/intelligent-map", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build mapping request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mapping service request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mapping service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return DecodeMappingResponse(raw)
}

// DecodeMappingResponse validates and decodes a mapping service reply.
func DecodeMappingResponse(raw []byte) (*models.MappingResponse, error) {
	if err := ValidateJSONAgainstSchema(MappingResponseSchema, raw); err != nil {
		return nil, fmt.Errorf("invalid mapping response: %w", err)
	}
	var out models.MappingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode mapping response: %w", err)
	}
	return &out, nil
}

// DecodeFields validates and decodes a field extraction reply.
func DecodeFields(raw []byte) ([]models.Field, error) {
	if err := ValidateJSONAgainstSchema(FieldsSchema, raw); err != nil {
		return nil, fmt.Errorf("invalid field extraction response: %w", err)
	}
	var fields []models.Field
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}

// NewMappingRequest builds the mapping request for fields. Names are
// normalized for docType and date fields are rewritten as DD/MM/YYYY.
func NewMappingRequest(docType string, fields []models.Field, contextData map[string]string) models.MappingRequest {
	extracted := make(map[string]models.ExtractedValue, len(fields))
	for _, f := range fields {
		name := NormalizeFieldName(docType, f.Name)
		v := models.ExtractedValue{Value: f.Value, Reasoning: f.Reasoning, Confidence: f.Confidence}
		if IsDateField(name) {
			if normalized, ok := NormalizeDate(f.Value); ok && normalized != f.Value {
				v.Value = normalized
				v.Reasoning = strings.TrimSpace(v.Reasoning + " (normalized from: " + f.Value + ")")
			}
		}
		extracted[name] = v
	}
	return models.MappingRequest{ExtractedData: extracted, DocumentType: docType, ContextData: contextData}
}

// MappedFields flattens a mapping response into a stable, name-sorted list.
func MappedFields(resp *models.MappingResponse) []models.MappedField {
	names := make([]string, 0, len(resp.MappedData))
	for name := range resp.MappedData {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.MappedField, 0, len(names))
	for _, name := range names {
		v := resp.MappedData[name]
		out = append(out, models.MappedField{Field: name, Value: v.Value, Reasoning: v.Reasoning, Confidence: v.Confidence})
	}
	return out
}
