package model

// Asset kinds
type AssetKind string

const (
	AssetKindCharacter AssetKind = "character"
	AssetKindLocation  AssetKind = "location"
	AssetKindObject    AssetKind = "object"
)

var ValidAssetKinds = []AssetKind{
	AssetKindCharacter, AssetKindLocation, AssetKindObject,
}

// Asset status
type AssetStatus string

const (
	AssetStatusIdle       AssetStatus = "idle"
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusDone       AssetStatus = "done"
	AssetStatusError      AssetStatus = "error"
)

// Scene status
type SceneStatus string

const (
	SceneStatusIdle       SceneStatus = "idle"
	SceneStatusGenerating SceneStatus = "generating"
	SceneStatusDone       SceneStatus = "done"
	SceneStatusError      SceneStatus = "error"
)

// Pipeline run state
type RunState string

const (
	RunStateIdle    RunState = "idle"
	RunStateRunning RunState = "running"
	RunStateDone    RunState = "done"
	RunStateFailed  RunState = "failed"
)

// Batch render kinds
type BatchKind string

const (
	BatchKindImage BatchKind = "image"
	BatchKindVideo BatchKind = "video"
)

// Generation job status (local view of the external job lifecycle)
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
)

// Target kinds a generation job can fulfil
type TargetKind string

const (
	TargetKindAsset TargetKind = "asset"
	TargetKindScene TargetKind = "scene"
)

// Output formats
type OutputFormat string

const (
	FormatLandscape OutputFormat = "landscape"
	FormatPortrait  OutputFormat = "portrait"
	FormatSquare    OutputFormat = "square"
)

var ValidOutputFormats = []OutputFormat{
	FormatLandscape, FormatPortrait, FormatSquare,
}

// Visual styles
type VisualStyle string

const (
	StyleCinematic  VisualStyle = "cinematic"
	StyleAnime      VisualStyle = "anime"
	StyleWatercolor VisualStyle = "watercolor"
	StyleComic      VisualStyle = "comic"
	StylePixel      VisualStyle = "pixel"
	StyleRealistic  VisualStyle = "realistic"
)

var ValidVisualStyles = []VisualStyle{
	StyleCinematic, StyleAnime, StyleWatercolor,
	StyleComic, StylePixel, StyleRealistic,
}
