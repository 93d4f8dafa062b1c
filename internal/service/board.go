package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storycanvas/api/internal/model"
	ws "github.com/storycanvas/api/internal/websocket"
	"github.com/storycanvas/api/pkg/response"
)

// board is the mutable state of one project: the asset and scene collections,
// the selection set, the run flags and the progress log. It is only ever
// touched from inside the store's command loop.
type board struct {
	ProjectID    string                  `json:"projectId"`
	UserID       string                  `json:"userId"`
	RunID        string                  `json:"runId"`
	State        model.RunState          `json:"state"`
	Settings     model.AestheticSettings `json:"settings"`
	Assets       []*model.ReferenceAsset `json:"assets"`
	Scenes       []*model.Scene          `json:"scenes"`
	Jobs         []*model.GenerationJob  `json:"jobs"`
	Selected     map[string]bool         `json:"selected"`
	IsProcessing bool                    `json:"isProcessing"`
	Balance      int                     `json:"balance"`
	LogLines     []string                `json:"logLines"`
	UpdatedAt    time.Time               `json:"updatedAt"`
}

// BoardStore is the single writer for all project boards. Every mutation —
// handler calls, batch loops, background pollers — is a command executed by
// one goroutine, so per-record updates never interleave with user edits.
type BoardStore struct {
	commands chan func()
	boards   map[string]*board
	hub      *ws.Hub
	redis    *redis.Client
}

// NewBoardStore creates a board store. hub and redisClient may be nil (tests).
func NewBoardStore(hub *ws.Hub, redisClient *redis.Client) *BoardStore {
	return &BoardStore{
		commands: make(chan func(), 64),
		boards:   make(map[string]*board),
		hub:      hub,
		redis:    redisClient,
	}
}

// Run starts the command loop. It never returns; run it in its own goroutine.
func (s *BoardStore) Run() {
	for cmd := range s.commands {
		cmd()
	}
}

// do executes fn inside the command loop and waits for it to finish.
func (s *BoardStore) do(fn func()) {
	done := make(chan struct{})
	s.commands <- func() {
		fn()
		close(done)
	}
	<-done
}

// get loads a board, falling back to the Redis snapshot. Loop-only.
func (s *BoardStore) get(projectID string) *board {
	if b, ok := s.boards[projectID]; ok {
		return b
	}
	if b := s.load(projectID); b != nil {
		// Runtime flags do not survive a restart
		b.IsProcessing = false
		s.boards[projectID] = b
		return b
	}
	return nil
}

// touch stamps and persists a board after a mutation. Loop-only.
func (s *BoardStore) touch(b *board) {
	b.UpdatedAt = time.Now()
	s.save(b)
}

func (s *BoardStore) save(b *board) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	s.redis.Set(context.Background(), fmt.Sprintf("board:%s", b.ProjectID), data, 7*24*time.Hour)
}

func (s *BoardStore) load(projectID string) *board {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(context.Background(), fmt.Sprintf("board:%s", projectID)).Bytes()
	if err != nil {
		return nil
	}
	var b board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil
	}
	if b.Selected == nil {
		b.Selected = make(map[string]bool)
	}
	return &b
}

// appendLog adds a progress line and broadcasts it. Loop-only.
func (s *BoardStore) appendLog(b *board, line string) {
	b.LogLines = append(b.LogLines, line)
	if s.hub != nil {
		s.hub.BroadcastLog(b.ProjectID, line)
	}
}

func (s *BoardStore) broadcastStatus(b *board, kind model.TargetKind, targetID, status, url string) {
	if s.hub != nil {
		s.hub.BroadcastStatus(b.ProjectID, kind, targetID, status, url)
	}
}

func (s *BoardStore) broadcastError(b *board, code, message string) {
	if s.hub != nil {
		s.hub.BroadcastError(b.ProjectID, code, message)
	}
}

// ErrRunInProgress rejects a re-entrant pipeline run.
var ErrRunInProgress = fmt.Errorf("pipeline run already in progress")

// ErrBatchInProgress rejects a second batch while one is running.
var ErrBatchInProgress = fmt.Errorf("batch operation already in progress")

// ErrEmptySelection rejects a batch over an empty selection.
var ErrEmptySelection = fmt.Errorf("no scenes selected")

// ErrNotFound reports a missing project, scene or asset.
var ErrNotFound = fmt.Errorf("not found")

// BeginRun resets the board for a fresh pipeline run. The reset is eager:
// prior scenes, assets, selection and log are discarded before the extraction
// call resolves, so every run is a hard reset of the board.
func (s *BoardStore) BeginRun(projectID, userID, runID string, settings model.AestheticSettings) error {
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b != nil && b.State == model.RunStateRunning {
			err = ErrRunInProgress
			return
		}
		if b == nil {
			b = &board{ProjectID: projectID}
			s.boards[projectID] = b
		}
		b.UserID = userID
		b.RunID = runID
		b.State = model.RunStateRunning
		b.Settings = settings
		b.Assets = nil
		b.Scenes = nil
		b.Jobs = nil
		b.Selected = make(map[string]bool)
		b.IsProcessing = false
		b.LogLines = nil
		s.appendLog(b, "Pipeline started")
		s.touch(b)
	})
	return err
}

// FailRun ends a run on a fatal pipeline error. The board stays cleared.
func (s *BoardStore) FailRun(projectID, message string) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		b.State = model.RunStateFailed
		s.appendLog(b, "Pipeline failed: "+message)
		s.broadcastError(b, response.CodeAIError, message)
		s.touch(b)
		if s.hub != nil {
			s.hub.BroadcastComplete(projectID, b.RunID, b.State)
		}
	})
}

// CompleteRun marks the orchestration phase of a run finished. Asset jobs
// dispatched during the run keep completing in the background.
func (s *BoardStore) CompleteRun(projectID string) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		b.State = model.RunStateDone
		s.appendLog(b, "Pipeline complete")
		s.touch(b)
		if s.hub != nil {
			s.hub.BroadcastComplete(projectID, b.RunID, b.State)
		}
	})
}

// InstallExtraction installs the remapped asset and scene collections
// produced by one extraction pass, replacing whatever the reset left behind.
func (s *BoardStore) InstallExtraction(projectID string, assets []model.ReferenceAsset, scenes []model.Scene) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		b.Assets = make([]*model.ReferenceAsset, len(assets))
		for i := range assets {
			a := assets[i]
			b.Assets[i] = &a
		}
		b.Scenes = make([]*model.Scene, len(scenes))
		for i := range scenes {
			sc := scenes[i]
			b.Scenes[i] = &sc
		}
		s.appendLog(b, fmt.Sprintf("Installed %d assets and %d scenes", len(assets), len(scenes)))
		s.touch(b)
	})
}

// AppendLog adds one progress line to the board's log.
func (s *BoardStore) AppendLog(projectID, line string) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		s.appendLog(b, line)
		s.touch(b)
	})
}

// LogLines returns a copy of the progress log.
func (s *BoardStore) LogLines(projectID string) ([]string, error) {
	var lines []string
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		lines = append([]string(nil), b.LogLines...)
	})
	return lines, err
}

// Snapshot returns the full observable state of a board.
func (s *BoardStore) Snapshot(projectID string) (*model.BoardSnapshot, error) {
	var snap *model.BoardSnapshot
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		snap = s.snapshot(b)
	})
	return snap, err
}

// snapshot copies board state into the wire model. Loop-only.
func (s *BoardStore) snapshot(b *board) *model.BoardSnapshot {
	assets := make([]model.ReferenceAsset, len(b.Assets))
	for i, a := range b.Assets {
		assets[i] = *a
	}
	scenes := make([]model.Scene, len(b.Scenes))
	for i, sc := range b.Scenes {
		scenes[i] = *sc
		scenes[i].ReferencedAssetIDs = append([]string(nil), sc.ReferencedAssetIDs...)
	}
	selected := make([]string, 0, len(b.Selected))
	for _, sc := range b.Scenes {
		if b.Selected[sc.ID] {
			selected = append(selected, sc.ID)
		}
	}
	jobs := make([]model.GenerationJob, len(b.Jobs))
	for i, j := range b.Jobs {
		jobs[i] = *j
	}
	return &model.BoardSnapshot{
		ProjectID:        b.ProjectID,
		RunID:            b.RunID,
		State:            b.State,
		Assets:           assets,
		Scenes:           scenes,
		SelectedSceneIDs: selected,
		Jobs:             jobs,
		IsProcessing:     b.IsProcessing,
		Settings:         b.Settings,
		Balance:          b.Balance,
		UpdatedAt:        b.UpdatedAt,
	}
}

// SelectScenes adds the given scenes to the selection.
func (s *BoardStore) SelectScenes(projectID string, sceneIDs []string) error {
	return s.mutateSelection(projectID, sceneIDs, true)
}

// DeselectScenes removes the given scenes from the selection.
func (s *BoardStore) DeselectScenes(projectID string, sceneIDs []string) error {
	return s.mutateSelection(projectID, sceneIDs, false)
}

func (s *BoardStore) mutateSelection(projectID string, sceneIDs []string, selected bool) error {
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		known := make(map[string]bool, len(b.Scenes))
		for _, sc := range b.Scenes {
			known[sc.ID] = true
		}
		for _, id := range sceneIDs {
			if !known[id] {
				continue
			}
			if selected {
				b.Selected[id] = true
			} else {
				delete(b.Selected, id)
			}
		}
		s.touch(b)
	})
	return err
}

// SelectAll selects every scene on the board.
func (s *BoardStore) SelectAll(projectID string) error {
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		for _, sc := range b.Scenes {
			b.Selected[sc.ID] = true
		}
		s.touch(b)
	})
	return err
}

// UpdateScenePrompt edits a scene's visual directive.
func (s *BoardStore) UpdateScenePrompt(projectID, sceneID, prompt string) error {
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		sc := findScene(b, sceneID)
		if sc == nil {
			err = ErrNotFound
			return
		}
		sc.Prompt = prompt
		sc.UpdatedAt = time.Now()
		s.touch(b)
	})
	return err
}

// AddAsset installs a manually created reference asset. The board is created
// on first use so assets can exist before any pipeline run.
func (s *BoardStore) AddAsset(projectID, userID string, asset model.ReferenceAsset) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			b = &board{
				ProjectID: projectID,
				UserID:    userID,
				State:     model.RunStateIdle,
				Selected:  make(map[string]bool),
			}
			s.boards[projectID] = b
		}
		b.Assets = append(b.Assets, &asset)
		s.appendLog(b, fmt.Sprintf("Asset %q added", asset.Name))
		s.touch(b)
	})
}

// UpdateAsset edits name, description or design prompt of an asset.
func (s *BoardStore) UpdateAsset(projectID, assetID string, req *model.AssetUpdateRequest) error {
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		a := findAsset(b, assetID)
		if a == nil {
			err = ErrNotFound
			return
		}
		if req.Name != nil {
			a.Name = *req.Name
		}
		if req.Description != nil {
			a.Description = *req.Description
		}
		if req.DesignPrompt != nil {
			a.DesignPrompt = *req.DesignPrompt
		}
		a.UpdatedAt = time.Now()
		s.touch(b)
	})
	return err
}

// RemoveAsset deletes an asset and drops it from every scene's references.
// An in-flight job targeting the asset is not cancelled; its result is
// discarded when the apply step finds no target.
func (s *BoardStore) RemoveAsset(projectID, assetID string) error {
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		idx := -1
		for i, a := range b.Assets {
			if a.ID == assetID {
				idx = i
				break
			}
		}
		if idx == -1 {
			err = ErrNotFound
			return
		}
		name := b.Assets[idx].Name
		b.Assets = append(b.Assets[:idx], b.Assets[idx+1:]...)
		for _, sc := range b.Scenes {
			refs := sc.ReferencedAssetIDs[:0]
			for _, id := range sc.ReferencedAssetIDs {
				if id != assetID {
					refs = append(refs, id)
				}
			}
			sc.ReferencedAssetIDs = refs
		}
		s.appendLog(b, fmt.Sprintf("Asset %q removed", name))
		s.touch(b)
	})
	return err
}

// SetAssetProcessing resets an asset for (re)generation and returns its
// design prompt for resubmission.
func (s *BoardStore) SetAssetProcessing(projectID, assetID string) (string, error) {
	var prompt string
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		a := findAsset(b, assetID)
		if a == nil {
			err = ErrNotFound
			return
		}
		a.ImageURL = ""
		a.Status = model.AssetStatusProcessing
		a.UpdatedAt = time.Now()
		prompt = a.DesignPrompt
		s.broadcastStatus(b, model.TargetKindAsset, a.ID, string(a.Status), "")
		s.touch(b)
	})
	return prompt, err
}

// ApplyAssetResult overwrites an asset's terminal fields with a completed
// design render. Applying the same result twice is safe; applying to a
// deleted asset reports false and the result is discarded.
func (s *BoardStore) ApplyAssetResult(projectID, assetID, imageURL, mediaID string) bool {
	applied := false
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		a := findAsset(b, assetID)
		if a == nil {
			return
		}
		a.ImageURL = imageURL
		a.ExternalMediaID = mediaID
		a.Status = model.AssetStatusDone
		a.UpdatedAt = time.Now()
		applied = true
		s.appendLog(b, fmt.Sprintf("Design ready for %q", a.Name))
		s.broadcastStatus(b, model.TargetKindAsset, a.ID, string(a.Status), imageURL)
		s.touch(b)
	})
	return applied
}

// SetAssetError marks an asset's design job failed.
func (s *BoardStore) SetAssetError(projectID, assetID, message string) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		a := findAsset(b, assetID)
		if a == nil {
			return
		}
		a.Status = model.AssetStatusError
		a.UpdatedAt = time.Now()
		s.appendLog(b, fmt.Sprintf("Design failed for %q: %s", a.Name, message))
		s.broadcastStatus(b, model.TargetKindAsset, a.ID, string(a.Status), "")
		s.broadcastError(b, response.CodeJobFailed, message)
		s.touch(b)
	})
}

// SetSceneGenerating marks a scene's render in flight.
func (s *BoardStore) SetSceneGenerating(projectID, sceneID string) error {
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		sc := findScene(b, sceneID)
		if sc == nil {
			err = ErrNotFound
			return
		}
		sc.Status = model.SceneStatusGenerating
		sc.UpdatedAt = time.Now()
		s.broadcastStatus(b, model.TargetKindScene, sc.ID, string(sc.Status), "")
		s.touch(b)
	})
	return err
}

// ApplySceneImage overwrites a scene's image render result.
func (s *BoardStore) ApplySceneImage(projectID, sceneID, imageURL string) bool {
	return s.applySceneResult(projectID, sceneID, imageURL, "")
}

// ApplySceneVideo overwrites a scene's video render result.
func (s *BoardStore) ApplySceneVideo(projectID, sceneID, videoURL string) bool {
	return s.applySceneResult(projectID, sceneID, "", videoURL)
}

func (s *BoardStore) applySceneResult(projectID, sceneID, imageURL, videoURL string) bool {
	applied := false
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		sc := findScene(b, sceneID)
		if sc == nil {
			return
		}
		url := imageURL
		if imageURL != "" {
			sc.ImageURL = imageURL
		}
		if videoURL != "" {
			sc.VideoURL = videoURL
			url = videoURL
		}
		sc.Status = model.SceneStatusDone
		sc.UpdatedAt = time.Now()
		applied = true
		s.appendLog(b, fmt.Sprintf("Scene %d render ready", sc.Order))
		s.broadcastStatus(b, model.TargetKindScene, sc.ID, string(sc.Status), url)
		s.touch(b)
	})
	return applied
}

// SetSceneError marks a scene's render failed, naming the scene in the log.
func (s *BoardStore) SetSceneError(projectID, sceneID, message string) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		sc := findScene(b, sceneID)
		if sc == nil {
			return
		}
		sc.Status = model.SceneStatusError
		sc.UpdatedAt = time.Now()
		s.appendLog(b, fmt.Sprintf("Scene %d render failed: %s", sc.Order, message))
		s.broadcastStatus(b, model.TargetKindScene, sc.ID, string(sc.Status), "")
		s.broadcastError(b, response.CodeJobFailed, message)
		s.touch(b)
	})
}

// BeginBatch acquires the global processing flag and returns the selected
// scenes in board order. A second batch of either kind is rejected while the
// flag is held.
func (s *BoardStore) BeginBatch(projectID string) ([]model.Scene, model.AestheticSettings, string, error) {
	var scenes []model.Scene
	var settings model.AestheticSettings
	var userID string
	var err error
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			err = ErrNotFound
			return
		}
		if b.IsProcessing {
			err = ErrBatchInProgress
			return
		}
		if len(b.Selected) == 0 {
			err = ErrEmptySelection
			return
		}
		b.IsProcessing = true
		for _, sc := range b.Scenes {
			if b.Selected[sc.ID] {
				cp := *sc
				cp.ReferencedAssetIDs = append([]string(nil), sc.ReferencedAssetIDs...)
				scenes = append(scenes, cp)
			}
		}
		settings = b.Settings
		userID = b.UserID
		s.touch(b)
	})
	return scenes, settings, userID, err
}

// EndBatch clears the selection set and releases the processing flag.
func (s *BoardStore) EndBatch(projectID string) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		b.Selected = make(map[string]bool)
		b.IsProcessing = false
		s.touch(b)
	})
}

// AssetImageURLs resolves the given asset ids to rendered image URLs,
// silently omitting assets without an image.
func (s *BoardStore) AssetImageURLs(projectID string, assetIDs []string) []string {
	var urls []string
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		for _, id := range assetIDs {
			if a := findAsset(b, id); a != nil && a.ImageURL != "" {
				urls = append(urls, a.ImageURL)
			}
		}
	})
	return urls
}

// TrackJob records an acknowledged external job and its credit reservation
// on the board.
func (s *BoardStore) TrackJob(projectID string, job model.GenerationJob) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		job.Status = model.JobStatusSubmitted
		job.CreatedAt = time.Now()
		b.Jobs = append(b.Jobs, &job)
		s.touch(b)
	})
}

// SettleJob marks a tracked job terminal and returns the credits reserved
// for it. A job already settled matches nothing, so a second settle returns
// zero and a refund cannot double.
func (s *BoardStore) SettleJob(projectID, jobID string, status model.JobStatus) int {
	var reserved int
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		for _, j := range b.Jobs {
			if j.JobID == jobID && j.Status == model.JobStatusSubmitted {
				j.Status = status
				reserved = j.ReservedCredits
				s.touch(b)
				return
			}
		}
	})
	return reserved
}

// SetBalance records the latest ledger balance for the board's owner.
func (s *BoardStore) SetBalance(projectID string, balance int) {
	s.do(func() {
		b := s.get(projectID)
		if b == nil {
			return
		}
		b.Balance = balance
		s.touch(b)
	})
}

func findAsset(b *board, assetID string) *model.ReferenceAsset {
	for _, a := range b.Assets {
		if a.ID == assetID {
			return a
		}
	}
	return nil
}

func findScene(b *board, sceneID string) *model.Scene {
	for _, sc := range b.Scenes {
		if sc.ID == sceneID {
			return sc
		}
	}
	return nil
}
