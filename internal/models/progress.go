package models

import "time"

// PipelineStage names the phase an enhancement batch is in.
type PipelineStage string

const (
	PipelineInitializing    PipelineStage = "initializing"
	PipelineAnalyzing       PipelineStage = "analyzing"
	PipelineGeneratingCards PipelineStage = "generating_cards"
	PipelineEnhancingCards  PipelineStage = "enhancing_cards"
	PipelineCompleted       PipelineStage = "completed"
	PipelineError           PipelineStage = "error"
)

// ProgressUpdate is the event shape consumed by progress UIs. The
// orchestration engine is the sole producer.
type ProgressUpdate struct {
	Stage     PipelineStage     `json:"stage"`
	Message   string            `json:"message"`
	Progress  int               `json:"progress"` // 0-100, monotonically increasing per batch
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}
