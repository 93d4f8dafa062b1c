package model

import "time"

// ReferenceAsset is the design anchor for one character, location or object.
// It is created by an extraction pass (or manually) and mutated only by the
// orchestrator in response to job submission and poll events.
type ReferenceAsset struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Kind            AssetKind   `json:"kind"`
	Description     string      `json:"description,omitempty"`
	DesignPrompt    string      `json:"designPrompt"`
	ImageURL        string      `json:"imageUrl,omitempty"`
	ExternalMediaID string      `json:"externalMediaId,omitempty"`
	Status          AssetStatus `json:"status"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// AssetCreateRequest is the payload for manually adding a reference asset.
type AssetCreateRequest struct {
	Name         string    `json:"name" validate:"required,min=1,max=120"`
	Kind         AssetKind `json:"kind" validate:"required,oneof=character location object"`
	Description  string    `json:"description" validate:"max=2000"`
	DesignPrompt string    `json:"designPrompt" validate:"max=4000"`
}

// AssetUpdateRequest is the payload for editing an existing reference asset.
// All fields are optional; empty fields are left untouched.
type AssetUpdateRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=120"`
	Description  *string `json:"description" validate:"omitempty,max=2000"`
	DesignPrompt *string `json:"designPrompt" validate:"omitempty,max=4000"`
}
