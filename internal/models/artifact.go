package models

import "time"

// EnhancementStatus tracks the second-pass market enrichment of a card.
type EnhancementStatus string

const (
	EnhancementPending    EnhancementStatus = "pending"
	EnhancementInProgress EnhancementStatus = "in_progress"
	EnhancementCompleted  EnhancementStatus = "completed"
	EnhancementFailed     EnhancementStatus = "failed"
)

// Enhancement holds the market-verified layer of a career card.
type Enhancement struct {
	Status      EnhancementStatus `json:"status"`
	SourceRefs  []string          `json:"source_refs,omitempty"`
	LastUpdated time.Time         `json:"last_updated"`

	SalaryRange       string   `json:"salary_range,omitempty"`
	GrowthOutlook     string   `json:"growth_outlook,omitempty"`
	EducationPathways []string `json:"education_pathways,omitempty"`
	FailureReason     string   `json:"failure_reason,omitempty"`
}

// CareerCard is a generated career recommendation. It is created in basic
// form synchronously from a tool result and mutated in place by the
// enhancement pipeline. Cards are never deleted, only superseded.
type CareerCard struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	MatchedOn   []string `json:"matched_on,omitempty"` // evidence values that produced the match
	NextSteps   []string `json:"next_steps,omitempty"`

	Enhancement Enhancement `json:"enhancement"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Clone returns a copy safe to mutate without affecting the original.
func (c *CareerCard) Clone() *CareerCard {
	out := *c
	out.MatchedOn = append([]string(nil), c.MatchedOn...)
	out.NextSteps = append([]string(nil), c.NextSteps...)
	out.Enhancement.SourceRefs = append([]string(nil), c.Enhancement.SourceRefs...)
	out.Enhancement.EducationPathways = append([]string(nil), c.Enhancement.EducationPathways...)
	return &out
}

// CareerAnalysis is the first-pass output of conversation analysis: scored
// career directions derived from accumulated evidence.
type CareerAnalysis struct {
	Directions    []CareerDirection `json:"directions"`
	TriggerReason string            `json:"trigger_reason"`
	AnalyzedAt    time.Time         `json:"analyzed_at"`
}

// CareerDirection is one scored match between evidence and a career field.
type CareerDirection struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Score       float64  `json:"score"` // [0,1]
	MatchedOn   []string `json:"matched_on"`
	NextSteps   []string `json:"next_steps,omitempty"`
}

// Insight is a lightweight instant observation surfaced mid-conversation in
// response to a user excitement or urgency signal.
type Insight struct {
	Text          string    `json:"text"`
	TriggerReason string    `json:"trigger_reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// MarketData is what the external market lookup returns for a career title.
type MarketData struct {
	Title             string   `json:"title"`
	SalaryRange       string   `json:"salary_range"`
	GrowthOutlook     string   `json:"growth_outlook"`
	EducationPathways []string `json:"education_pathways"`
	Sources           []string `json:"sources,omitempty"`
}
