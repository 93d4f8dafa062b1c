package model

// MaxExtractedEntities caps the combined number of characters and locations
// installed from one extraction pass. Excess entities are truncated, not merged.
const MaxExtractedEntities = 5

// ExtractedEntity is one character or location proposed by the model,
// identified by a temporary id scoped to the single extraction call.
type ExtractedEntity struct {
	TempID      string `json:"temp_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ExtractedScene is one beat proposed by the model; Appears lists the
// temporary entity ids literally present in the beat.
type ExtractedScene struct {
	Order        int      `json:"order"`
	VisualPrompt string   `json:"visualPrompt"`
	Appears      []string `json:"appears"`
}

// Extraction is the parsed decomposition result. Any other response shape is
// a fatal parse error for the whole run.
type Extraction struct {
	Characters []ExtractedEntity `json:"characters"`
	Locations  []ExtractedEntity `json:"locations"`
	Scenes     []ExtractedScene  `json:"scenes"`
}
