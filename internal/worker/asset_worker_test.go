package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/storycanvas/api/internal/client"
	"github.com/storycanvas/api/internal/config"
	"github.com/storycanvas/api/internal/model"
	"github.com/storycanvas/api/internal/service"
)

// scriptedMedia acknowledges every submission and reports a fixed terminal
// status on the first poll.
type scriptedMedia struct {
	mu      sync.Mutex
	submits int
	fail    bool
}

func (m *scriptedMedia) SubmitImageJob(ctx context.Context, req *client.ImageJobRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
	return "job-1", nil
}

func (m *scriptedMedia) SubmitVideoJob(ctx context.Context, req *client.VideoJobRequest) (string, error) {
	return "", nil
}

func (m *scriptedMedia) GetJobStatus(ctx context.Context, jobID string) (*client.JobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return &client.JobState{JobID: jobID, Status: "failed", Error: "engine error"}, nil
	}
	return &client.JobState{JobID: jobID, Status: "done", ImageURL: "https://provider/design.png"}, nil
}

func (m *scriptedMedia) IsConfigured() bool { return true }

func setupWorkerTest(t *testing.T, media client.MediaGenerator, ledger client.CreditLedger) (*AssetWorker, *service.BoardStore, string, string) {
	t.Helper()

	store := service.NewBoardStore(nil, nil)
	go store.Run()

	projectID := uuid.New().String()
	if err := store.BeginRun(projectID, "user-1", uuid.New().String(), model.AestheticSettings{
		Format: model.FormatLandscape,
		Style:  model.StyleCinematic,
	}); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	assetID := uuid.New().String()
	store.InstallExtraction(projectID, []model.ReferenceAsset{
		{ID: assetID, Name: "Hero", Kind: model.AssetKindCharacter, DesignPrompt: "a hero", Status: model.AssetStatusIdle},
	}, nil)
	store.CompleteRun(projectID)

	pollCfg := &config.PipelineConfig{PollBaseSec: 0, PollMaxSec: 1, PollDeadlineSec: 5}
	poller := service.NewPoller(media, pollCfg)
	credits := &config.CreditsConfig{ImageCost: 10, VideoCost: 50}

	return NewAssetWorker(store, media, ledger, nil, poller, credits), store, projectID, assetID
}

func designTask(t *testing.T, projectID, assetID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(&model.AssetJobPayload{
		ProjectID: projectID,
		UserID:    "user-1",
		AssetID:   assetID,
		Prompt:    "a hero",
		Settings:  model.AestheticSettings{Format: model.FormatLandscape, Style: model.StyleCinematic},
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return asynq.NewTask(service.TaskTypeAssetDesign, data)
}

func TestProcessTask_Success(t *testing.T) {
	media := &scriptedMedia{}
	ledger := client.NewLocalLedger(100)
	w, store, projectID, assetID := setupWorkerTest(t, media, ledger)

	if err := w.ProcessTask(context.Background(), designTask(t, projectID, assetID)); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	snap, _ := store.Snapshot(projectID)
	if snap.Assets[0].Status != model.AssetStatusDone {
		t.Errorf("expected done asset, got %s", snap.Assets[0].Status)
	}
	if snap.Assets[0].ImageURL != "https://provider/design.png" {
		t.Errorf("unexpected image url: %s", snap.Assets[0].ImageURL)
	}
	if snap.Assets[0].ExternalMediaID != "job-1" {
		t.Errorf("unexpected media id: %s", snap.Assets[0].ExternalMediaID)
	}

	balance, _ := ledger.Balance(context.Background(), "user-1")
	if balance != 90 {
		t.Errorf("expected balance 90 after consumption, got %d", balance)
	}
	if snap.Balance != 90 {
		t.Errorf("expected board balance refreshed to 90, got %d", snap.Balance)
	}
	if len(snap.Jobs) != 1 || snap.Jobs[0].Status != model.JobStatusDone || snap.Jobs[0].TargetKind != model.TargetKindAsset {
		t.Errorf("expected a settled asset job record, got %+v", snap.Jobs)
	}
}

func TestProcessTask_FailedJobRefunds(t *testing.T) {
	media := &scriptedMedia{fail: true}
	ledger := client.NewLocalLedger(100)
	w, store, projectID, assetID := setupWorkerTest(t, media, ledger)

	if err := w.ProcessTask(context.Background(), designTask(t, projectID, assetID)); err == nil {
		t.Fatal("expected error so asynq retries the task")
	}

	snap, _ := store.Snapshot(projectID)
	if snap.Assets[0].Status != model.AssetStatusError {
		t.Errorf("expected error asset, got %s", snap.Assets[0].Status)
	}

	balance, _ := ledger.Balance(context.Background(), "user-1")
	if balance != 100 {
		t.Errorf("expected full refund, got balance %d", balance)
	}
	if snap.Balance != 100 {
		t.Errorf("expected board balance refreshed to 100, got %d", snap.Balance)
	}
	if len(snap.Jobs) != 1 || snap.Jobs[0].Status != model.JobStatusFailed {
		t.Errorf("expected a failed job record, got %+v", snap.Jobs)
	}
}

func TestProcessTask_DeletedAssetDropped(t *testing.T) {
	media := &scriptedMedia{}
	ledger := client.NewLocalLedger(100)
	w, store, projectID, assetID := setupWorkerTest(t, media, ledger)

	if err := store.RemoveAsset(projectID, assetID); err != nil {
		t.Fatalf("RemoveAsset failed: %v", err)
	}

	// No retry for a target that no longer exists
	if err := w.ProcessTask(context.Background(), designTask(t, projectID, assetID)); err != nil {
		t.Fatalf("expected nil error for deleted asset, got %v", err)
	}

	if media.submits != 0 {
		t.Errorf("expected no submission for deleted asset, got %d", media.submits)
	}
	balance, _ := ledger.Balance(context.Background(), "user-1")
	if balance != 100 {
		t.Errorf("expected untouched balance, got %d", balance)
	}
}

func TestProcessTask_MockWhenUnconfigured(t *testing.T) {
	unconfigured := client.NewMediaClient(&config.MediaConfig{})
	ledger := client.NewLocalLedger(100)

	store := service.NewBoardStore(nil, nil)
	go store.Run()

	projectID := uuid.New().String()
	if err := store.BeginRun(projectID, "user-1", uuid.New().String(), model.AestheticSettings{
		Format: model.FormatLandscape, Style: model.StyleCinematic,
	}); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	assetID := uuid.New().String()
	store.InstallExtraction(projectID, []model.ReferenceAsset{
		{ID: assetID, Name: "Hero", Kind: model.AssetKindCharacter, Status: model.AssetStatusIdle},
	}, nil)
	store.CompleteRun(projectID)

	pollCfg := &config.PipelineConfig{PollBaseSec: 0, PollMaxSec: 1, PollDeadlineSec: 5}
	w := NewAssetWorker(store, unconfigured, ledger, nil, service.NewPoller(unconfigured, pollCfg), &config.CreditsConfig{ImageCost: 10})

	if err := w.ProcessTask(context.Background(), designTask(t, projectID, assetID)); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	snap, _ := store.Snapshot(projectID)
	if snap.Assets[0].Status != model.AssetStatusDone || snap.Assets[0].ImageURL == "" {
		t.Errorf("expected mock fulfilment, got %+v", snap.Assets[0])
	}

	// Mock path never touches the ledger
	balance, _ := ledger.Balance(context.Background(), "user-1")
	if balance != 100 {
		t.Errorf("expected untouched balance, got %d", balance)
	}
}
