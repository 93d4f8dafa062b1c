package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/storycanvas/api/internal/client"
	"github.com/storycanvas/api/internal/config"
	"github.com/storycanvas/api/internal/model"
)

// RenderService runs the per-scene render batches. An image batch walks the
// selected scenes one at a time; a video batch submits them with concurrent
// settlement. Either way the project's processing flag is held for the whole
// batch, so only one batch of either kind runs per project.
type RenderService struct {
	store   *BoardStore
	media   client.MediaGenerator
	ledger  client.CreditLedger
	storage client.StorageClient
	poller  *Poller
	credits *config.CreditsConfig
}

// NewRenderService creates a new render service. storage may be nil; results
// then keep the provider URLs instead of being mirrored.
func NewRenderService(store *BoardStore, media client.MediaGenerator, ledger client.CreditLedger, storage client.StorageClient, poller *Poller, credits *config.CreditsConfig) *RenderService {
	return &RenderService{
		store:   store,
		media:   media,
		ledger:  ledger,
		storage: storage,
		poller:  poller,
		credits: credits,
	}
}

// GenerateImages starts an image batch over the selected scenes and returns
// immediately. Scenes that already carry an image are skipped inside the
// batch, not rejected here.
func (s *RenderService) GenerateImages(ctx context.Context, projectID string) (*model.BatchResponse, error) {
	scenes, settings, userID, err := s.store.BeginBatch(projectID)
	if err != nil {
		return nil, err
	}

	go s.runImageBatch(projectID, userID, scenes, settings)

	return &model.BatchResponse{
		ProjectID: projectID,
		Kind:      model.BatchKindImage,
		Accepted:  len(scenes),
		CreatedAt: time.Now(),
	}, nil
}

// GenerateVideos starts a video batch over the selected scenes and returns
// immediately.
func (s *RenderService) GenerateVideos(ctx context.Context, projectID string) (*model.BatchResponse, error) {
	scenes, settings, userID, err := s.store.BeginBatch(projectID)
	if err != nil {
		return nil, err
	}

	go s.runVideoBatch(projectID, userID, scenes, settings)

	return &model.BatchResponse{
		ProjectID: projectID,
		Kind:      model.BatchKindVideo,
		Accepted:  len(scenes),
		CreatedAt: time.Now(),
	}, nil
}

// runImageBatch renders stills sequentially, awaiting each job before
// submitting the next.
func (s *RenderService) runImageBatch(projectID, userID string, scenes []model.Scene, settings model.AestheticSettings) {
	log.Printf("[DEBUG] runImageBatch start project=%s scenes=%d", projectID, len(scenes))
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DEBUG] runImageBatch PANIC: %v", r)
			panic(r)
		}
		log.Printf("[DEBUG] runImageBatch end project=%s", projectID)
	}()
	ctx := context.Background()

	for i := range scenes {
		sc := &scenes[i]
		if sc.ImageURL != "" {
			s.store.AppendLog(projectID, fmt.Sprintf("Scene %d already has an image, skipped", sc.Order))
			continue
		}
		s.renderSceneImage(ctx, projectID, userID, sc, settings)
	}

	s.refreshBalance(ctx, projectID, userID)
	s.store.EndBatch(projectID)
	s.store.AppendLog(projectID, "Image batch finished")
}

func (s *RenderService) renderSceneImage(ctx context.Context, projectID, userID string, sc *model.Scene, settings model.AestheticSettings) {
	if err := s.store.SetSceneGenerating(projectID, sc.ID); err != nil {
		return
	}

	if s.media == nil || !s.media.IsConfigured() {
		s.mockSceneResult(projectID, sc, model.BatchKindImage)
		return
	}

	jobID, err := s.media.SubmitImageJob(ctx, &client.ImageJobRequest{
		Prompt:   sc.Prompt,
		Settings: settings,
	})
	if err != nil {
		s.store.SetSceneError(projectID, sc.ID, fmt.Sprintf("submission failed: %v", err))
		return
	}

	reserved := s.reserve(ctx, projectID, userID, s.credits.ImageCost)
	s.store.TrackJob(projectID, model.GenerationJob{
		JobID:           jobID,
		TargetID:        sc.ID,
		TargetKind:      model.TargetKindScene,
		Kind:            model.BatchKindImage,
		ReservedCredits: reserved,
	})

	state, err := s.poller.Await(ctx, jobID)
	if err != nil {
		s.refund(ctx, userID, s.store.SettleJob(projectID, jobID, settleStatus(err)))
		s.store.SetSceneError(projectID, sc.ID, err.Error())
		return
	}
	if state.IsFailed() {
		s.refund(ctx, userID, s.store.SettleJob(projectID, jobID, model.JobStatusFailed))
		s.store.SetSceneError(projectID, sc.ID, state.Error)
		return
	}
	s.store.SettleJob(projectID, jobID, model.JobStatusDone)

	url := s.mirror(ctx, state.ImageURL, fmt.Sprintf("scenes/%s/%s.png", projectID, sc.ID))
	if !s.store.ApplySceneImage(projectID, sc.ID, url) {
		log.Printf("[Render] scene %s gone, image result discarded", sc.ID)
	}
}

// runVideoBatch submits videos in board order with an advisory balance check
// before each one; the first insufficiency aborts the remainder. Settlement
// of the submitted jobs runs concurrently.
func (s *RenderService) runVideoBatch(projectID, userID string, scenes []model.Scene, settings model.AestheticSettings) {
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := range scenes {
		sc := &scenes[i]

		if balance, err := s.ledger.Balance(ctx, userID); err == nil && balance < s.credits.VideoCost {
			s.store.AppendLog(projectID, fmt.Sprintf("Insufficient credits (%d), aborting remaining scenes", balance))
			break
		}

		if err := s.store.SetSceneGenerating(projectID, sc.ID); err != nil {
			continue
		}

		if s.media == nil || !s.media.IsConfigured() {
			s.mockSceneResult(projectID, sc, model.BatchKindVideo)
			continue
		}

		referenceImages := s.store.AssetImageURLs(projectID, sc.ReferencedAssetIDs)
		jobID, err := s.media.SubmitVideoJob(ctx, &client.VideoJobRequest{
			Prompt:          sc.Prompt,
			ReferenceImages: referenceImages,
			DurationSeconds: sc.DurationSeconds,
			Settings:        settings,
		})
		if err != nil {
			s.store.SetSceneError(projectID, sc.ID, fmt.Sprintf("submission failed: %v", err))
			continue
		}

		reserved := s.reserve(ctx, projectID, userID, s.credits.VideoCost)
		s.store.TrackJob(projectID, model.GenerationJob{
			JobID:           jobID,
			TargetID:        sc.ID,
			TargetKind:      model.TargetKindScene,
			Kind:            model.BatchKindVideo,
			ReservedCredits: reserved,
		})
		wg.Add(1)
		go func(sceneID, jobID string) {
			defer wg.Done()
			s.settleSceneVideo(ctx, projectID, userID, sceneID, jobID)
		}(sc.ID, jobID)
	}

	wg.Wait()
	s.refreshBalance(ctx, projectID, userID)
	s.store.EndBatch(projectID)
	s.store.AppendLog(projectID, "Video batch finished")
}

func (s *RenderService) settleSceneVideo(ctx context.Context, projectID, userID, sceneID, jobID string) {
	state, err := s.poller.Await(ctx, jobID)
	if err != nil {
		s.refund(ctx, userID, s.store.SettleJob(projectID, jobID, settleStatus(err)))
		s.store.SetSceneError(projectID, sceneID, err.Error())
		return
	}
	if state.IsFailed() {
		s.refund(ctx, userID, s.store.SettleJob(projectID, jobID, model.JobStatusFailed))
		s.store.SetSceneError(projectID, sceneID, state.Error)
		return
	}
	s.store.SettleJob(projectID, jobID, model.JobStatusDone)

	url := s.mirror(ctx, state.VideoURL, fmt.Sprintf("scenes/%s/%s.mp4", projectID, sceneID))
	if !s.store.ApplySceneVideo(projectID, sceneID, url) {
		log.Printf("[Render] scene %s gone, video result discarded", sceneID)
	}
}

// mockSceneResult fulfils a scene locally when no media API is configured.
func (s *RenderService) mockSceneResult(projectID string, sc *model.Scene, kind model.BatchKind) {
	time.Sleep(500 * time.Millisecond)
	if kind == model.BatchKindVideo {
		s.store.ApplySceneVideo(projectID, sc.ID, fmt.Sprintf("https://mock.storycanvas.dev/scenes/%s.mp4", sc.ID))
		return
	}
	s.store.ApplySceneImage(projectID, sc.ID, fmt.Sprintf("https://mock.storycanvas.dev/scenes/%s.png", sc.ID))
}

// reserve charges the ledger after the job API acknowledged a submission.
// A reservation failure downgrades the job to unbilled rather than killing
// it; the returned amount is what a later refund must return.
func (s *RenderService) reserve(ctx context.Context, projectID, userID string, amount int) int {
	if err := s.ledger.UseCredits(ctx, userID, amount); err != nil {
		log.Printf("[Render] credit reservation failed for user %s: %v", userID, err)
		s.store.AppendLog(projectID, fmt.Sprintf("Credit reservation failed, job continues unbilled: %v", err))
		return 0
	}
	return amount
}

// refund returns a reservation after a failed or timed-out job.
func (s *RenderService) refund(ctx context.Context, userID string, reserved int) {
	if reserved == 0 {
		return
	}
	if err := s.ledger.AddCredits(ctx, userID, reserved); err != nil {
		log.Printf("[Render] refund of %d credits failed for user %s: %v", reserved, userID, err)
	}
}

// mirror copies a provider result into owned storage, falling back to the
// provider URL when storage is absent or the copy fails.
func (s *RenderService) mirror(ctx context.Context, sourceURL, key string) string {
	if s.storage == nil || sourceURL == "" {
		return sourceURL
	}
	url, err := s.storage.MirrorFromURL(ctx, sourceURL, key)
	if err != nil {
		log.Printf("[Render] mirror of %s failed: %v", sourceURL, err)
		return sourceURL
	}
	return url
}

// refreshBalance pulls the authoritative balance onto the board.
func (s *RenderService) refreshBalance(ctx context.Context, projectID, userID string) {
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		log.Printf("[Render] balance refresh failed for user %s: %v", userID, err)
		return
	}
	s.store.SetBalance(projectID, balance)
}
