package model

import "time"

// PipelineRunRequest starts a full script-to-storyboard pipeline run.
type PipelineRunRequest struct {
	ProjectID            string            `json:"projectId" validate:"required,uuid"`
	Script               string            `json:"script" validate:"required,min=1,max=20000"`
	TotalDurationSeconds int               `json:"totalDurationSeconds" validate:"required,min=4,max=600"`
	Settings             AestheticSettings `json:"settings" validate:"required"`
}

// PipelineRunResponse acknowledges an accepted run.
type PipelineRunResponse struct {
	ProjectID string    `json:"projectId"`
	RunID     string    `json:"runId"`
	State     RunState  `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// BoardSnapshot is the full observable state of one project board.
type BoardSnapshot struct {
	ProjectID        string            `json:"projectId"`
	RunID            string            `json:"runId,omitempty"`
	State            RunState          `json:"state"`
	Assets           []ReferenceAsset  `json:"assets"`
	Scenes           []Scene           `json:"scenes"`
	SelectedSceneIDs []string          `json:"selectedSceneIds"`
	Jobs             []GenerationJob   `json:"jobs,omitempty"`
	IsProcessing     bool              `json:"isProcessing"`
	Settings         AestheticSettings `json:"settings"`
	Balance          int               `json:"balance"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// BatchResponse summarises a finished batch submission loop.
type BatchResponse struct {
	ProjectID string    `json:"projectId"`
	Kind      BatchKind `json:"kind"`
	Accepted  int       `json:"accepted"`
	CreatedAt time.Time `json:"createdAt"`
}

// BalanceResponse carries the user's current ledger balance.
type BalanceResponse struct {
	UserID  string `json:"userId"`
	Balance int    `json:"balance"`
}
