package models

// PersonaType is a coarse behavioral classification of the user, used to
// bias downstream tone and pacing.
type PersonaType string

const (
	PersonaUnknown             PersonaType = "unknown"
	PersonaExplorer            PersonaType = "curious_explorer"        // broad interests, few concrete goals
	PersonaGoalDriven          PersonaType = "goal_driven_achiever"    // explicit goals dominate
	PersonaSkillBuilder        PersonaType = "practical_skill_builder" // leads with skills and experience
	PersonaUncertainNewcomer   PersonaType = "uncertain_newcomer"      // anxiety/doubt markers, thin evidence
	PersonaEnthusiastConverter PersonaType = "energized_enthusiast"    // strong excitement markers
)

// PersonaClassification is the output of the classifier. Confidence below
// the configured threshold means downstream components treat the persona as
// provisional. Confidence is not monotone: contradicting evidence may lower it.
type PersonaClassification struct {
	Type         PersonaType `json:"type"`
	Confidence   float64     `json:"confidence"` // [0,1]
	EvidenceRefs []string    `json:"evidence_refs"`
}

// Provisional reports whether the classification is below the given
// confidence threshold and should be recomputed as evidence accrues.
func (p *PersonaClassification) Provisional(threshold float64) bool {
	return p == nil || p.Confidence < threshold
}
