package model

import "time"

// GenerationJob correlates one external async job to the asset or scene it
// fulfils, plus the credit amount reserved for it. The reservation is what
// makes refund-on-failure exact: whatever was reserved at submission is the
// amount returned when the job ends FAILED or TIMEOUT.
type GenerationJob struct {
	JobID           string     `json:"jobId"` // external id
	TargetID        string     `json:"targetId"`
	TargetKind      TargetKind `json:"targetKind"`
	Kind            BatchKind  `json:"kind"`
	ReservedCredits int        `json:"reservedCredits"`
	Status          JobStatus  `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// AssetJobPayload is the asynq task payload for one entity design job.
type AssetJobPayload struct {
	ProjectID string            `json:"projectId"`
	UserID    string            `json:"userId"`
	AssetID   string            `json:"assetId"`
	Prompt    string            `json:"prompt"`
	Settings  AestheticSettings `json:"settings"`
}
