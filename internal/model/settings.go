package model

// AestheticSettings is the configuration bundle for one pipeline run. It is
// immutable while the run is in flight: the extractor reads it to build
// prompts and the batch renderers read it to build per-job payloads.
type AestheticSettings struct {
	Format         OutputFormat `json:"format" validate:"required,oneof=landscape portrait square"`
	Style          VisualStyle  `json:"style" validate:"required,oneof=cinematic anime watercolor comic pixel realistic"`
	Culture        string       `json:"culture" validate:"max=120"`
	Background     string       `json:"background" validate:"max=500"`
	Cinematic      string       `json:"cinematic" validate:"max=500"`
	AudioDirective string       `json:"audioDirective" validate:"max=500"`
	ImageModel     string       `json:"imageModel" validate:"max=80"`
	VideoModel     string       `json:"videoModel" validate:"max=80"`
	RetryCount     int          `json:"retryCount" validate:"min=0,max=10"`
	MaxParallel    int          `json:"maxParallel" validate:"min=0,max=32"`
}
