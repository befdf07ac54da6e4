package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/documentintake/internal/models"
	"github.com/Lllllllleong/documentintake/internal/services"
)

// --- Field Extractor Prompts ---
const ExtractorSystemPrompt = "You are a document data extraction tool. You read OCR text of a scanned document and return the values of its fields. You must output your response as a valid JSON array."
const ExtractorUserPrompt = `The document below was classified as: %s

Extract every labelled value you can find in the OCR text.

Follow these rules precisely:
1.  Create one JSON object per field with the keys "name", "value", "reasoning" and "confidence".
2.  "name" is the field label in snake_case (e.g. "policy_number", "date_of_birth").
3.  "value" is always a string, copied exactly as it appears in the text.
4.  "confidence" is a number between 0 and 1.
5.  Do not invent values. Leave out fields you cannot read.
6.  The output MUST be a single JSON array with no text before or after it.

OCR text:
%s`

// --- Field Mapper Prompts ---
const MapperSystemPrompt = "You map values extracted from a document onto the fields of a target form. You must output your response as a valid JSON object."
const MapperUserPrompt = `Map the extracted values onto the target form fields.

Return a JSON object with exactly two keys:
- "mappedData": an object keyed by target form field, each value an object with "value" (string), "reasoning" (string) and "confidence" (number between 0 and 1).
- "unmappedFields": an array of extracted field names you could not place.

Request:
%s`

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexClient holds the generative models used for field work.
type VertexClient struct {
	ExtractorModel *genai.GenerativeModel
	MapperModel    *genai.GenerativeModel
	baseClient     *genai.Client
}

// NewVertexClient creates a client holding both models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		ExtractorModel: jsonModel(baseClient, modelName, ExtractorSystemPrompt),
		MapperModel:    jsonModel(baseClient, modelName, MapperSystemPrompt),
		baseClient:     baseClient,
	}, nil
}

func jsonModel(client *genai.Client, name, systemPrompt string) *genai.GenerativeModel {
	m := client.GenerativeModel(name)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	m.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return m
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// VertexFieldService extracts and maps fields with Gemini. Every reply is
// schema-checked before it is accepted.
type VertexFieldService struct {
	client *VertexClient
	logger *slog.Logger
}

func NewVertexFieldService(client *VertexClient, logger *slog.Logger) *VertexFieldService {
	if logger == nil {
		logger = slog.Default()
	}
	return &VertexFieldService{client: client, logger: logger}
}

func (s *VertexFieldService) ExtractFields(ctx context.Context, docType, text string) ([]models.Field, error) {
	prompt := genai.Text(fmt.Sprintf(ExtractorUserPrompt, docType, text))
	resp, err := s.client.ExtractorModel.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	raw, err := responseJSON(resp)
	if err != nil {
		return nil, err
	}
	fields, err := services.DecodeFields(raw)
	if err != nil {
		s.logger.Warn("Gemini returned malformed fields.", "documentType", docType, "response", string(raw))
		return nil, err
	}
	return fields, nil
}

func (s *VertexFieldService) MapFields(ctx context.Context, req models.MappingRequest) (*models.MappingResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mapping request: %w", err)
	}
	resp, err := s.client.MapperModel.GenerateContent(ctx, genai.Text(fmt.Sprintf(MapperUserPrompt, body)))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	raw, err := responseJSON(resp)
	if err != nil {
		return nil, err
	}
	return services.DecodeMappingResponse(raw)
}

// responseJSON joins the text parts of the first candidate and strips any
// code fence around them.
func responseJSON(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return cleanModelJSON(sb.String())
}

func cleanModelJSON(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return nil, fmt.Errorf("gemini response indicates refusal")
		}
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("gemini returned an empty response")
	}
	return []byte(s), nil
}
