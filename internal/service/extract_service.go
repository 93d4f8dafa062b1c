package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storycanvas/api/internal/client"
	"github.com/storycanvas/api/internal/model"
)

// ScriptExtractor defines the interface for script decomposition
type ScriptExtractor interface {
	Extract(ctx context.Context, req *ExtractRequest) (*model.Extraction, error)
}

// ExtractRequest carries everything the decomposition prompt needs
type ExtractRequest struct {
	Script               string
	TotalDurationSeconds int
	TargetSceneCount     int
	Settings             model.AestheticSettings
}

// ExtractService turns a narrative script into reference entities and ordered
// scene beats using the Groq chat endpoint. The model is instructed to return
// exactly TargetSceneCount scenes; if it deviates, the returned count is
// accepted as-is by the caller.
type ExtractService struct {
	groqClient *client.GroqClient
}

// NewExtractService creates a new extraction service with Groq client
func NewExtractService(groqClient *client.GroqClient) *ExtractService {
	return &ExtractService{
		groqClient: groqClient,
	}
}

// Extract performs one decomposition call. Malformed output is returned as an
// error and is fatal for the whole pipeline run; no partial result is surfaced.
func (s *ExtractService) Extract(ctx context.Context, req *ExtractRequest) (*model.Extraction, error) {
	// Use mock response if client is not configured
	if s.groqClient == nil || !s.groqClient.IsConfigured() {
		return s.extractMock(req), nil
	}

	systemPrompt := s.buildSystemPrompt()
	userPrompt := s.buildExtractPrompt(req)

	response, err := s.groqClient.ChatCompletion(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("script decomposition failed: %w", err)
	}

	extraction, err := parseExtraction(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse decomposition response: %w", err)
	}

	return extraction, nil
}

func (s *ExtractService) buildSystemPrompt() string {
	return `You are a storyboard director breaking a narrative script into a cast of reference entities and a sequence of visual beats.
Always output your response as valid JSON in the exact format requested.
Assign each character and location a short temporary id (c1, c2, l1, ...) and use those ids in the "appears" lists.
Do not include any text outside the JSON structure.`
}

func (s *ExtractService) buildExtractPrompt(req *ExtractRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Decompose the following script into exactly %d scenes for a %d second %s storyboard.\n",
		req.TargetSceneCount, req.TotalDurationSeconds, req.Settings.Format)
	fmt.Fprintf(&sb, "Visual style: %s.\n", req.Settings.Style)
	if req.Settings.Culture != "" {
		fmt.Fprintf(&sb, "Cultural setting: %s.\n", req.Settings.Culture)
	}
	if req.Settings.Background != "" {
		fmt.Fprintf(&sb, "Background directive: %s.\n", req.Settings.Background)
	}
	if req.Settings.Cinematic != "" {
		fmt.Fprintf(&sb, "Cinematic directive: %s.\n", req.Settings.Cinematic)
	}

	sb.WriteString("\nScript:\n")
	sb.WriteString(req.Script)

	sb.WriteString(`

List every distinct character and location appearing on screen.
Each scene's "appears" array must contain only temp ids from your own characters/locations lists.
Each scene's visualPrompt is a self-contained visual directive for an image generation model.

Output as JSON: {"characters": [{"temp_id": "c1", "name": "...", "description": "..."}], "locations": [{"temp_id": "l1", "name": "...", "description": "..."}], "scenes": [{"order": 1, "visualPrompt": "...", "appears": ["c1", "l1"]}]}`)

	return sb.String()
}

// parseExtraction parses a decomposition response. The response must carry at
// least one scene; anything else is a parse failure.
func parseExtraction(response string) (*model.Extraction, error) {
	response = extractJSON(response)

	var result model.Extraction
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}

	if len(result.Scenes) == 0 {
		return nil, fmt.Errorf("no scenes in response")
	}

	return &result, nil
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(s string) string {
	// Find the first { and last }
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

// extractMock returns a deterministic decomposition for development/testing
func (s *ExtractService) extractMock(req *ExtractRequest) *model.Extraction {
	scenes := make([]model.ExtractedScene, req.TargetSceneCount)
	for i := range scenes {
		scenes[i] = model.ExtractedScene{
			Order:        i + 1,
			VisualPrompt: fmt.Sprintf("Beat %d: the hero moves through the ruined city, %s style", i+1, req.Settings.Style),
			Appears:      []string{"c1", "l1"},
		}
	}

	return &model.Extraction{
		Characters: []model.ExtractedEntity{
			{TempID: "c1", Name: "The Hero", Description: "A lone traveler in a weathered coat"},
		},
		Locations: []model.ExtractedEntity{
			{TempID: "l1", Name: "Ruined City", Description: "Collapsed towers under an ash-grey sky"},
		},
		Scenes: scenes,
	}
}
