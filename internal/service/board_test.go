package service

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/storycanvas/api/internal/model"
)

func newTestStore(t *testing.T) *BoardStore {
	t.Helper()
	store := NewBoardStore(nil, nil)
	go store.Run()
	return store
}

func testSettings() model.AestheticSettings {
	return model.AestheticSettings{Format: model.FormatLandscape, Style: model.StyleCinematic}
}

func installTestBoard(t *testing.T, store *BoardStore, projectID string, sceneCount int) ([]model.ReferenceAsset, []model.Scene) {
	t.Helper()

	if err := store.BeginRun(projectID, "user-1", uuid.New().String(), testSettings()); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	assets := []model.ReferenceAsset{
		{ID: uuid.New().String(), Name: "Hero", Kind: model.AssetKindCharacter, Status: model.AssetStatusIdle},
		{ID: uuid.New().String(), Name: "City", Kind: model.AssetKindLocation, Status: model.AssetStatusIdle},
	}
	scenes := make([]model.Scene, sceneCount)
	for i := range scenes {
		scenes[i] = model.Scene{
			ID:                 uuid.New().String(),
			Order:              i + 1,
			DurationSeconds:    8,
			Prompt:             "beat",
			ReferencedAssetIDs: []string{assets[0].ID, assets[1].ID},
			Status:             model.SceneStatusIdle,
		}
	}
	store.InstallExtraction(projectID, assets, scenes)
	store.CompleteRun(projectID)
	return assets, scenes
}

func TestBeginRun_RejectsReentrantRun(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()

	if err := store.BeginRun(projectID, "user-1", "run-1", testSettings()); err != nil {
		t.Fatalf("first BeginRun failed: %v", err)
	}

	err := store.BeginRun(projectID, "user-1", "run-2", testSettings())
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	store.CompleteRun(projectID)
	if err := store.BeginRun(projectID, "user-1", "run-3", testSettings()); err != nil {
		t.Fatalf("BeginRun after completion failed: %v", err)
	}
}

func TestBeginRun_ResetsBoardEagerly(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()

	_, scenes := installTestBoard(t, store, projectID, 3)
	if err := store.SelectScenes(projectID, []string{scenes[0].ID}); err != nil {
		t.Fatalf("SelectScenes failed: %v", err)
	}

	// A new run wipes assets, scenes, selection and log before any result lands
	if err := store.BeginRun(projectID, "user-1", "run-2", testSettings()); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	snap, err := store.Snapshot(projectID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Assets) != 0 || len(snap.Scenes) != 0 || len(snap.SelectedSceneIDs) != 0 {
		t.Errorf("expected cleared board, got %d assets, %d scenes, %d selected",
			len(snap.Assets), len(snap.Scenes), len(snap.SelectedSceneIDs))
	}
	if snap.State != model.RunStateRunning {
		t.Errorf("expected running state, got %s", snap.State)
	}
}

func TestSelection_IgnoresUnknownScenes(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()
	_, scenes := installTestBoard(t, store, projectID, 2)

	if err := store.SelectScenes(projectID, []string{scenes[0].ID, uuid.New().String()}); err != nil {
		t.Fatalf("SelectScenes failed: %v", err)
	}

	snap, _ := store.Snapshot(projectID)
	if len(snap.SelectedSceneIDs) != 1 || snap.SelectedSceneIDs[0] != scenes[0].ID {
		t.Errorf("unexpected selection: %v", snap.SelectedSceneIDs)
	}
}

func TestBeginBatch_MutualExclusion(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()
	_, scenes := installTestBoard(t, store, projectID, 2)

	if err := store.SelectAll(projectID); err != nil {
		t.Fatalf("SelectAll failed: %v", err)
	}

	got, _, userID, err := store.BeginBatch(projectID)
	if err != nil {
		t.Fatalf("BeginBatch failed: %v", err)
	}
	if len(got) != len(scenes) {
		t.Errorf("expected %d scenes, got %d", len(scenes), len(got))
	}
	if userID != "user-1" {
		t.Errorf("expected board owner, got %q", userID)
	}

	// Second batch of either kind is rejected while the flag is held
	if _, _, _, err := store.BeginBatch(projectID); !errors.Is(err, ErrBatchInProgress) {
		t.Fatalf("expected ErrBatchInProgress, got %v", err)
	}

	store.EndBatch(projectID)

	snap, _ := store.Snapshot(projectID)
	if snap.IsProcessing {
		t.Error("expected processing flag released after EndBatch")
	}
	if len(snap.SelectedSceneIDs) != 0 {
		t.Error("expected selection cleared after EndBatch")
	}

	// Empty selection is rejected, not treated as a no-op batch
	if _, _, _, err := store.BeginBatch(projectID); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestBeginBatch_ReturnsScenesInBoardOrder(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()
	_, scenes := installTestBoard(t, store, projectID, 3)

	// Select in reverse
	if err := store.SelectScenes(projectID, []string{scenes[2].ID, scenes[0].ID}); err != nil {
		t.Fatalf("SelectScenes failed: %v", err)
	}

	got, _, _, err := store.BeginBatch(projectID)
	if err != nil {
		t.Fatalf("BeginBatch failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != scenes[0].ID || got[1].ID != scenes[2].ID {
		t.Errorf("expected board order, got %v", []string{got[0].ID, got[1].ID})
	}
}

func TestApplyAssetResult_IdempotentAndDiscarding(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()
	assets, _ := installTestBoard(t, store, projectID, 1)
	assetID := assets[0].ID

	if !store.ApplyAssetResult(projectID, assetID, "https://cdn/img.png", "job-1") {
		t.Fatal("expected first apply to land")
	}
	// Same terminal result applied again is a plain overwrite
	if !store.ApplyAssetResult(projectID, assetID, "https://cdn/img.png", "job-1") {
		t.Fatal("expected repeat apply to land")
	}

	snap, _ := store.Snapshot(projectID)
	if snap.Assets[0].ImageURL != "https://cdn/img.png" || snap.Assets[0].Status != model.AssetStatusDone {
		t.Errorf("unexpected asset state: %+v", snap.Assets[0])
	}

	if err := store.RemoveAsset(projectID, assetID); err != nil {
		t.Fatalf("RemoveAsset failed: %v", err)
	}
	// Result for a deleted asset is discarded without error
	if store.ApplyAssetResult(projectID, assetID, "https://cdn/late.png", "job-2") {
		t.Error("expected apply to a deleted asset to be discarded")
	}
}

func TestRemoveAsset_DropsSceneReferences(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()
	assets, _ := installTestBoard(t, store, projectID, 2)

	if err := store.RemoveAsset(projectID, assets[0].ID); err != nil {
		t.Fatalf("RemoveAsset failed: %v", err)
	}

	snap, _ := store.Snapshot(projectID)
	if len(snap.Assets) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(snap.Assets))
	}
	for _, sc := range snap.Scenes {
		for _, ref := range sc.ReferencedAssetIDs {
			if ref == assets[0].ID {
				t.Errorf("scene %d still references removed asset", sc.Order)
			}
		}
	}
}

func TestAssetImageURLs_OmitsUnrendered(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()
	assets, _ := installTestBoard(t, store, projectID, 1)

	store.ApplyAssetResult(projectID, assets[0].ID, "https://cdn/hero.png", "job-1")

	urls := store.AssetImageURLs(projectID, []string{assets[0].ID, assets[1].ID})
	if len(urls) != 1 || urls[0] != "https://cdn/hero.png" {
		t.Errorf("expected only rendered asset urls, got %v", urls)
	}
}

func TestUpdateScenePrompt(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()
	_, scenes := installTestBoard(t, store, projectID, 1)

	if err := store.UpdateScenePrompt(projectID, scenes[0].ID, "new directive"); err != nil {
		t.Fatalf("UpdateScenePrompt failed: %v", err)
	}
	snap, _ := store.Snapshot(projectID)
	if snap.Scenes[0].Prompt != "new directive" {
		t.Errorf("prompt not updated: %q", snap.Scenes[0].Prompt)
	}

	if err := store.UpdateScenePrompt(projectID, uuid.New().String(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown scene, got %v", err)
	}
}

func TestSnapshot_UnknownProject(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Snapshot(uuid.New().String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTrackAndSettleJob(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()
	_, scenes := installTestBoard(t, store, projectID, 1)

	store.TrackJob(projectID, model.GenerationJob{
		JobID:           "job-1",
		TargetID:        scenes[0].ID,
		TargetKind:      model.TargetKindScene,
		Kind:            model.BatchKindImage,
		ReservedCredits: 10,
	})

	snap, err := store.Snapshot(projectID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Jobs) != 1 || snap.Jobs[0].Status != model.JobStatusSubmitted {
		t.Fatalf("expected one submitted job, got %+v", snap.Jobs)
	}

	if got := store.SettleJob(projectID, "job-1", model.JobStatusFailed); got != 10 {
		t.Errorf("expected the reservation back on first settle, got %d", got)
	}
	// A settled job matches nothing, so a retry of the refund gets zero
	if got := store.SettleJob(projectID, "job-1", model.JobStatusFailed); got != 0 {
		t.Errorf("expected zero on second settle, got %d", got)
	}

	snap, _ = store.Snapshot(projectID)
	if snap.Jobs[0].Status != model.JobStatusFailed {
		t.Errorf("expected failed job record, got %s", snap.Jobs[0].Status)
	}

	if got := store.SettleJob(projectID, "job-unknown", model.JobStatusDone); got != 0 {
		t.Errorf("expected zero for unknown job, got %d", got)
	}
}

func TestBeginRun_ClearsTrackedJobs(t *testing.T) {
	store := newTestStore(t)
	projectID := uuid.New().String()
	_, scenes := installTestBoard(t, store, projectID, 1)

	store.TrackJob(projectID, model.GenerationJob{
		JobID:      "job-1",
		TargetID:   scenes[0].ID,
		TargetKind: model.TargetKindScene,
		Kind:       model.BatchKindImage,
	})

	if err := store.BeginRun(projectID, "user-1", uuid.New().String(), testSettings()); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	store.CompleteRun(projectID)

	snap, _ := store.Snapshot(projectID)
	if len(snap.Jobs) != 0 {
		t.Errorf("expected job records cleared by the run reset, got %d", len(snap.Jobs))
	}
}
