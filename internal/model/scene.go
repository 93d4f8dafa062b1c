package model

import "time"

// Scene is one ordered beat of the storyboard. Scenes are created in bulk by
// a single extraction pass (replacing any prior scene set) and mutated by
// prompt edits and render jobs. referencedAssetIds always resolve to assets
// installed on the same board; dangling references are dropped at mapping time.
type Scene struct {
	ID                 string      `json:"id"`
	Order              int         `json:"order"` // 1-based, dense
	DurationSeconds    int         `json:"durationSeconds"`
	Prompt             string      `json:"prompt"`
	ReferencedAssetIDs []string    `json:"referencedAssetIds"`
	ImageURL           string      `json:"imageUrl,omitempty"`
	VideoURL           string      `json:"videoUrl,omitempty"`
	Status             SceneStatus `json:"status"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// ScenePromptRequest is the payload for editing a scene's visual directive.
type ScenePromptRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=4000"`
}

// SceneSelectRequest names the scenes to add to or remove from the selection.
type SceneSelectRequest struct {
	SceneIDs []string `json:"sceneIds" validate:"required,min=1,dive,uuid"`
}
