package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/storycanvas/api/internal/client"
	"github.com/storycanvas/api/internal/config"
	"github.com/storycanvas/api/internal/model"
)

const (
	TaskTypeAssetDesign = "asset:design"

	// QueueDesign carries entity design jobs. The worker pool size bounds
	// how many of them hold a poll slot at once.
	QueueDesign = "design"
)

// AssetJobEnqueuer dispatches entity design jobs onto the worker pool.
type AssetJobEnqueuer interface {
	EnqueueAssetDesign(payload *model.AssetJobPayload, maxRetry int) error
}

// AsynqEnqueuer implements AssetJobEnqueuer over an asynq client.
type AsynqEnqueuer struct {
	client *asynq.Client
}

// NewAsynqEnqueuer creates an enqueuer backed by the given asynq client
func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

// EnqueueAssetDesign queues one design job for background processing
func (e *AsynqEnqueuer) EnqueueAssetDesign(payload *model.AssetJobPayload, maxRetry int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskTypeAssetDesign, data)
	_, err = e.client.Enqueue(task,
		asynq.Queue(QueueDesign),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// PipelineService orchestrates full script-to-storyboard runs and the manual
// edits to the collections a run produces.
type PipelineService struct {
	store     *BoardStore
	extractor ScriptExtractor
	enqueuer  AssetJobEnqueuer
	storage   client.StorageClient
	cfg       *config.PipelineConfig
}

// NewPipelineService creates a new pipeline service. storage may be nil;
// mirrored design images are then left behind on delete.
func NewPipelineService(store *BoardStore, extractor ScriptExtractor, enqueuer AssetJobEnqueuer, storage client.StorageClient, cfg *config.PipelineConfig) *PipelineService {
	return &PipelineService{
		store:     store,
		extractor: extractor,
		enqueuer:  enqueuer,
		storage:   storage,
		cfg:       cfg,
	}
}

// RunPipeline accepts a run and starts it in the background. A project with
// a run already in flight is rejected; the caller gets the run id right away
// and watches progress through the board log and the websocket feed.
func (s *PipelineService) RunPipeline(ctx context.Context, userID string, req *model.PipelineRunRequest) (*model.PipelineRunResponse, error) {
	runID := uuid.New().String()

	if err := s.store.BeginRun(req.ProjectID, userID, runID, req.Settings); err != nil {
		return nil, err
	}

	go s.executeRun(userID, runID, req)

	return &model.PipelineRunResponse{
		ProjectID: req.ProjectID,
		RunID:     runID,
		State:     model.RunStateRunning,
		CreatedAt: time.Now(),
	}, nil
}

// executeRun is the background body of one run: decompose the script,
// install the collections, fan the design jobs out to the worker pool.
func (s *PipelineService) executeRun(userID, runID string, req *model.PipelineRunRequest) {
	ctx := context.Background()
	projectID := req.ProjectID

	sceneCount := req.TotalDurationSeconds / s.cfg.SceneDurationSec
	if sceneCount < 1 {
		sceneCount = 1
	}

	s.store.AppendLog(projectID, "Decomposing script into scenes and entities")
	extraction, err := s.extractor.Extract(ctx, &ExtractRequest{
		Script:               req.Script,
		TotalDurationSeconds: req.TotalDurationSeconds,
		TargetSceneCount:     sceneCount,
		Settings:             req.Settings,
	})
	if err != nil {
		s.store.FailRun(projectID, fmt.Sprintf("script decomposition failed: %v", err))
		return
	}

	assets, scenes, truncated := remapExtraction(extraction, req.TotalDurationSeconds, req.Settings)
	if truncated > 0 {
		s.store.AppendLog(projectID, fmt.Sprintf("Entity list capped at %d, dropped %d", model.MaxExtractedEntities, truncated))
	}
	s.store.InstallExtraction(projectID, assets, scenes)

	for i := range assets {
		payload := &model.AssetJobPayload{
			ProjectID: projectID,
			UserID:    userID,
			AssetID:   assets[i].ID,
			Prompt:    assets[i].DesignPrompt,
			Settings:  req.Settings,
		}
		if err := s.enqueuer.EnqueueAssetDesign(payload, req.Settings.RetryCount); err != nil {
			s.store.SetAssetError(projectID, assets[i].ID, fmt.Sprintf("failed to queue design job: %v", err))
		}
	}

	s.store.CompleteRun(projectID)
}

// remapExtraction turns the model's temp-id world into installed collections:
// stable uuids, per-scene durations, and references resolved against the kept
// entities. Returns how many entities the cap dropped.
func remapExtraction(ex *model.Extraction, totalDurationSeconds int, settings model.AestheticSettings) ([]model.ReferenceAsset, []model.Scene, int) {
	now := time.Now()

	type kindedEntity struct {
		entity model.ExtractedEntity
		kind   model.AssetKind
	}
	combined := make([]kindedEntity, 0, len(ex.Characters)+len(ex.Locations))
	for _, e := range ex.Characters {
		combined = append(combined, kindedEntity{e, model.AssetKindCharacter})
	}
	for _, e := range ex.Locations {
		combined = append(combined, kindedEntity{e, model.AssetKindLocation})
	}

	truncated := 0
	if len(combined) > model.MaxExtractedEntities {
		truncated = len(combined) - model.MaxExtractedEntities
		combined = combined[:model.MaxExtractedEntities]
	}

	idMap := make(map[string]string, len(combined))
	assets := make([]model.ReferenceAsset, len(combined))
	for i, ke := range combined {
		id := uuid.New().String()
		idMap[ke.entity.TempID] = id
		assets[i] = model.ReferenceAsset{
			ID:           id,
			Name:         ke.entity.Name,
			Kind:         ke.kind,
			Description:  ke.entity.Description,
			DesignPrompt: buildDesignPrompt(ke.entity, ke.kind, settings),
			Status:       model.AssetStatusIdle,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	ordered := append([]model.ExtractedScene(nil), ex.Scenes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	duration := totalDurationSeconds / len(ordered)
	scenes := make([]model.Scene, len(ordered))
	for i, es := range ordered {
		refs := make([]string, 0, len(es.Appears))
		for _, tempID := range es.Appears {
			if id, ok := idMap[tempID]; ok {
				refs = append(refs, id)
			}
		}
		scenes[i] = model.Scene{
			ID:                 uuid.New().String(),
			Order:              i + 1,
			DurationSeconds:    duration,
			Prompt:             es.VisualPrompt,
			ReferencedAssetIDs: refs,
			Status:             model.SceneStatusIdle,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
	}

	return assets, scenes, truncated
}

// buildDesignPrompt composes the design job prompt for one entity from its
// description and the run's aesthetic settings.
func buildDesignPrompt(e model.ExtractedEntity, kind model.AssetKind, settings model.AestheticSettings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reference sheet for %s %q: %s.", kind, e.Name, e.Description)
	fmt.Fprintf(&b, " Style: %s.", settings.Style)
	if settings.Culture != "" {
		fmt.Fprintf(&b, " Cultural setting: %s.", settings.Culture)
	}
	if settings.Background != "" {
		fmt.Fprintf(&b, " Background: %s.", settings.Background)
	}
	b.WriteString(" Neutral pose, full view, consistent design for reuse across scenes.")
	return b.String()
}

// Snapshot returns the board state for a project.
func (s *PipelineService) Snapshot(projectID string) (*model.BoardSnapshot, error) {
	return s.store.Snapshot(projectID)
}

// LogLines returns the progress log for a project.
func (s *PipelineService) LogLines(projectID string) ([]string, error) {
	return s.store.LogLines(projectID)
}

// SelectScenes adds scenes to the batch selection.
func (s *PipelineService) SelectScenes(projectID string, sceneIDs []string) error {
	return s.store.SelectScenes(projectID, sceneIDs)
}

// DeselectScenes removes scenes from the batch selection.
func (s *PipelineService) DeselectScenes(projectID string, sceneIDs []string) error {
	return s.store.DeselectScenes(projectID, sceneIDs)
}

// SelectAllScenes selects every scene on the board.
func (s *PipelineService) SelectAllScenes(projectID string) error {
	return s.store.SelectAll(projectID)
}

// UpdateScenePrompt edits one scene's visual directive.
func (s *PipelineService) UpdateScenePrompt(projectID, sceneID, prompt string) error {
	return s.store.UpdateScenePrompt(projectID, sceneID, prompt)
}

// CreateAsset installs a manually authored reference asset and queues its
// design job.
func (s *PipelineService) CreateAsset(ctx context.Context, projectID, userID string, req *model.AssetCreateRequest) (*model.ReferenceAsset, error) {
	settings := model.AestheticSettings{Style: model.StyleCinematic, Format: model.FormatLandscape}
	if snap, err := s.store.Snapshot(projectID); err == nil {
		settings = snap.Settings
	}

	now := time.Now()
	asset := model.ReferenceAsset{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Kind:        req.Kind,
		Description: req.Description,
		Status:      model.AssetStatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	asset.DesignPrompt = req.DesignPrompt
	if asset.DesignPrompt == "" {
		asset.DesignPrompt = buildDesignPrompt(model.ExtractedEntity{
			Name:        req.Name,
			Description: req.Description,
		}, req.Kind, settings)
	}

	s.store.AddAsset(projectID, userID, asset)

	payload := &model.AssetJobPayload{
		ProjectID: projectID,
		UserID:    userID,
		AssetID:   asset.ID,
		Prompt:    asset.DesignPrompt,
		Settings:  settings,
	}
	if err := s.enqueuer.EnqueueAssetDesign(payload, settings.RetryCount); err != nil {
		s.store.SetAssetError(projectID, asset.ID, fmt.Sprintf("failed to queue design job: %v", err))
	}
	return &asset, nil
}

// UpdateAsset edits an asset's editable fields.
func (s *PipelineService) UpdateAsset(projectID, assetID string, req *model.AssetUpdateRequest) error {
	return s.store.UpdateAsset(projectID, assetID, req)
}

// DeleteAsset removes an asset and its scene references, along with the
// mirrored design image when one was stored.
func (s *PipelineService) DeleteAsset(ctx context.Context, projectID, assetID string) error {
	if err := s.store.RemoveAsset(projectID, assetID); err != nil {
		return err
	}
	if s.storage != nil {
		key := fmt.Sprintf("assets/%s/%s.png", projectID, assetID)
		if err := s.storage.Delete(ctx, key); err != nil {
			log.Printf("[Pipeline] delete of %s failed: %v", key, err)
		}
	}
	return nil
}

// RegenerateAsset clears an asset's render and queues a fresh design job
// using the current design prompt and the board's settings.
func (s *PipelineService) RegenerateAsset(ctx context.Context, projectID, userID, assetID string) error {
	prompt, err := s.store.SetAssetProcessing(projectID, assetID)
	if err != nil {
		return err
	}

	snap, err := s.store.Snapshot(projectID)
	if err != nil {
		return err
	}

	payload := &model.AssetJobPayload{
		ProjectID: projectID,
		UserID:    userID,
		AssetID:   assetID,
		Prompt:    prompt,
		Settings:  snap.Settings,
	}
	if err := s.enqueuer.EnqueueAssetDesign(payload, snap.Settings.RetryCount); err != nil {
		s.store.SetAssetError(projectID, assetID, fmt.Sprintf("failed to queue design job: %v", err))
		return err
	}
	return nil
}
