package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/storycanvas/api/internal/config"
	"github.com/storycanvas/api/internal/model"
)

// MediaGenerator defines the interface over the external image/video job API.
// Both submit operations return an opaque job id; the job must then be driven
// to a terminal status by polling GetJobStatus.
type MediaGenerator interface {
	SubmitImageJob(ctx context.Context, req *ImageJobRequest) (string, error)
	SubmitVideoJob(ctx context.Context, req *VideoJobRequest) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*JobState, error)
	IsConfigured() bool
}

// MediaClient implements MediaGenerator against the media job REST API
type MediaClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	imageEngine string
	videoEngine string
}

// ImageJobRequest is the submission payload for a still render
type ImageJobRequest struct {
	Prompt   string
	Settings model.AestheticSettings
}

// VideoJobRequest is the submission payload for a motion render
type VideoJobRequest struct {
	Prompt          string
	ReferenceImages []string
	DurationSeconds int
	Settings        model.AestheticSettings
}

// JobState is the normalized status of one external job
type JobState struct {
	JobID    string
	Status   string // pending | processing | done | failed | error
	ImageURL string
	VideoURL string
	Error    string
}

// IsTerminal returns true if the job has reached a final state
func (s *JobState) IsTerminal() bool {
	return s.IsDone() || s.IsFailed()
}

// IsDone returns true if the job completed successfully
func (s *JobState) IsDone() bool {
	return s.Status == "done"
}

// IsFailed returns true if the job failed
func (s *JobState) IsFailed() bool {
	return s.Status == "failed" || s.Status == "error"
}

// jobSubmission is the wire format of POST /jobs
type jobSubmission struct {
	Type          string            `json:"type"`
	Input         jobInput          `json:"input"`
	Config        map[string]string `json:"config,omitempty"`
	Engine        string            `json:"engine"`
	EnginePayload map[string]any    `json:"enginePayload,omitempty"`
}

type jobInput struct {
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"referenceImages,omitempty"`
	DurationSeconds int      `json:"durationSeconds,omitempty"`
}

// jobStatusResponse is the wire format of GET /jobs/{id}
type jobStatusResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Result *struct {
		Images   []string `json:"images,omitempty"`
		VideoURL string   `json:"videoUrl,omitempty"`
	} `json:"result,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewMediaClient creates a new media job API client
func NewMediaClient(cfg *config.MediaConfig) *MediaClient {
	return &MediaClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		imageEngine: cfg.ImageEngine,
		videoEngine: cfg.VideoEngine,
	}
}

// SubmitImageJob submits a still-image generation job and returns its id
func (c *MediaClient) SubmitImageJob(ctx context.Context, req *ImageJobRequest) (string, error) {
	engine := c.imageEngine
	if req.Settings.ImageModel != "" {
		engine = req.Settings.ImageModel
	}

	body := jobSubmission{
		Type:   "image",
		Input:  jobInput{Prompt: req.Prompt},
		Config: styleConfig(req.Settings),
		Engine: engine,
	}

	return c.submit(ctx, &body)
}

// SubmitVideoJob submits a video generation job and returns its id. Reference
// images guide the engine toward the design assets appearing in the scene.
func (c *MediaClient) SubmitVideoJob(ctx context.Context, req *VideoJobRequest) (string, error) {
	engine := c.videoEngine
	if req.Settings.VideoModel != "" {
		engine = req.Settings.VideoModel
	}

	body := jobSubmission{
		Type: "video",
		Input: jobInput{
			Prompt:          req.Prompt,
			ReferenceImages: req.ReferenceImages,
			DurationSeconds: req.DurationSeconds,
		},
		Config: styleConfig(req.Settings),
		Engine: engine,
	}
	if req.Settings.AudioDirective != "" {
		body.EnginePayload = map[string]any{"audio": req.Settings.AudioDirective}
	}

	return c.submit(ctx, &body)
}

// GetJobStatus retrieves and normalizes the state of a submitted job
func (c *MediaClient) GetJobStatus(ctx context.Context, jobID string) (*JobState, error) {
	endpoint := fmt.Sprintf("/jobs/%s", jobID)

	var raw jobStatusResponse
	if err := c.get(ctx, endpoint, &raw); err != nil {
		return nil, err
	}

	state := &JobState{
		JobID:  jobID,
		Status: raw.Status,
		Error:  raw.Error,
	}
	if raw.Result != nil {
		if len(raw.Result.Images) > 0 {
			state.ImageURL = raw.Result.Images[0]
		}
		state.VideoURL = raw.Result.VideoURL
	}
	return state, nil
}

// styleConfig flattens the aesthetic settings into the job config map
func styleConfig(s model.AestheticSettings) map[string]string {
	cfg := map[string]string{
		"format": string(s.Format),
		"style":  string(s.Style),
	}
	if s.Culture != "" {
		cfg["culture"] = s.Culture
	}
	if s.Background != "" {
		cfg["background"] = s.Background
	}
	if s.Cinematic != "" {
		cfg["cinematic"] = s.Cinematic
	}
	return cfg
}

// submit posts a job submission and extracts the job id
func (c *MediaClient) submit(ctx context.Context, body *jobSubmission) (string, error) {
	var result struct {
		JobID string `json:"jobId"`
	}
	if err := c.post(ctx, "/jobs", body, &result); err != nil {
		return "", err
	}
	if result.JobID == "" {
		return "", fmt.Errorf("media API response missing jobId")
	}
	return result.JobID, nil
}

// post sends a POST request with JSON body
func (c *MediaClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *MediaClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *MediaClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[Media API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Media API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Media API] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Media API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("media API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Media API] ✗ unmarshal error for %s %s: %v (body: %s)", req.Method, req.URL.String(), err, string(respBody))
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *MediaClient) IsConfigured() bool {
	return c.apiKey != ""
}
