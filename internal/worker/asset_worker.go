package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/storycanvas/api/internal/client"
	"github.com/storycanvas/api/internal/config"
	"github.com/storycanvas/api/internal/model"
	"github.com/storycanvas/api/internal/service"
)

// AssetWorker processes entity design jobs. Each task occupies one slot of
// the asynq worker pool from submission through the final poll, which is what
// bounds the number of in-flight design jobs per process.
type AssetWorker struct {
	store   *service.BoardStore
	media   client.MediaGenerator
	ledger  client.CreditLedger
	storage client.StorageClient
	poller  *service.Poller
	credits *config.CreditsConfig
}

// NewAssetWorker creates a new asset design worker
func NewAssetWorker(store *service.BoardStore, media client.MediaGenerator, ledger client.CreditLedger, storage client.StorageClient, poller *service.Poller, credits *config.CreditsConfig) *AssetWorker {
	return &AssetWorker{
		store:   store,
		media:   media,
		ledger:  ledger,
		storage: storage,
		poller:  poller,
		credits: credits,
	}
}

// ProcessTask handles one design task from submission to settlement
func (w *AssetWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.AssetJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log.Printf("Starting design job for asset %s", payload.AssetID)

	if _, err := w.store.SetAssetProcessing(payload.ProjectID, payload.AssetID); err != nil {
		// Asset deleted before the job started; nothing to do and no retry
		log.Printf("Asset %s no longer exists, design job dropped", payload.AssetID)
		return nil
	}

	if w.media == nil || !w.media.IsConfigured() {
		return w.processWithMock(ctx, &payload)
	}

	return w.processWithMedia(ctx, &payload)
}

// processWithMedia runs the real submit, reserve, poll, settle sequence
func (w *AssetWorker) processWithMedia(ctx context.Context, payload *model.AssetJobPayload) error {
	jobID, err := w.media.SubmitImageJob(ctx, &client.ImageJobRequest{
		Prompt:   payload.Prompt,
		Settings: payload.Settings,
	})
	if err != nil {
		w.store.SetAssetError(payload.ProjectID, payload.AssetID, fmt.Sprintf("submission failed: %v", err))
		return err
	}

	reserved := w.credits.ImageCost
	if err := w.ledger.UseCredits(ctx, payload.UserID, reserved); err != nil {
		log.Printf("[Worker] credit reservation failed for user %s: %v", payload.UserID, err)
		w.store.AppendLog(payload.ProjectID, fmt.Sprintf("Credit reservation failed, job continues unbilled: %v", err))
		reserved = 0
	}
	w.store.TrackJob(payload.ProjectID, model.GenerationJob{
		JobID:           jobID,
		TargetID:        payload.AssetID,
		TargetKind:      model.TargetKindAsset,
		Kind:            model.BatchKindImage,
		ReservedCredits: reserved,
	})

	state, err := w.poller.Await(ctx, jobID)
	if err != nil {
		status := model.JobStatusFailed
		if errors.Is(err, service.ErrPollTimeout) {
			status = model.JobStatusTimeout
		}
		w.refund(ctx, payload.UserID, w.store.SettleJob(payload.ProjectID, jobID, status))
		w.store.SetAssetError(payload.ProjectID, payload.AssetID, err.Error())
		w.refreshBalance(ctx, payload.ProjectID, payload.UserID)
		return err
	}
	if state.IsFailed() {
		w.refund(ctx, payload.UserID, w.store.SettleJob(payload.ProjectID, jobID, model.JobStatusFailed))
		w.store.SetAssetError(payload.ProjectID, payload.AssetID, state.Error)
		w.refreshBalance(ctx, payload.ProjectID, payload.UserID)
		return fmt.Errorf("design job %s failed: %s", jobID, state.Error)
	}
	w.store.SettleJob(payload.ProjectID, jobID, model.JobStatusDone)

	url := state.ImageURL
	if w.storage != nil && url != "" {
		key := fmt.Sprintf("assets/%s/%s.png", payload.ProjectID, payload.AssetID)
		if mirrored, err := w.storage.MirrorFromURL(ctx, url, key); err == nil {
			url = mirrored
		} else {
			log.Printf("[Worker] mirror of %s failed: %v", url, err)
		}
	}

	if !w.store.ApplyAssetResult(payload.ProjectID, payload.AssetID, url, jobID) {
		log.Printf("Asset %s deleted mid-flight, result discarded", payload.AssetID)
	}
	w.refreshBalance(ctx, payload.ProjectID, payload.UserID)

	log.Printf("Design job for asset %s completed", payload.AssetID)
	return nil
}

// processWithMock fulfils the design locally when no media API is configured
func (w *AssetWorker) processWithMock(ctx context.Context, payload *model.AssetJobPayload) error {
	time.Sleep(2 * time.Second)

	url := fmt.Sprintf("https://mock.storycanvas.dev/assets/%s.png", payload.AssetID)
	if !w.store.ApplyAssetResult(payload.ProjectID, payload.AssetID, url, "mock-"+payload.AssetID) {
		log.Printf("Asset %s deleted mid-flight, mock result discarded", payload.AssetID)
	}
	w.refreshBalance(ctx, payload.ProjectID, payload.UserID)
	return nil
}

func (w *AssetWorker) refund(ctx context.Context, userID string, reserved int) {
	if reserved == 0 {
		return
	}
	if err := w.ledger.AddCredits(ctx, userID, reserved); err != nil {
		log.Printf("[Worker] refund of %d credits failed for user %s: %v", reserved, userID, err)
	}
}

// refreshBalance pulls the authoritative balance onto the board after a job
// settles.
func (w *AssetWorker) refreshBalance(ctx context.Context, projectID, userID string) {
	balance, err := w.ledger.Balance(ctx, userID)
	if err != nil {
		log.Printf("[Worker] balance refresh failed for user %s: %v", userID, err)
		return
	}
	w.store.SetBalance(projectID, balance)
}
