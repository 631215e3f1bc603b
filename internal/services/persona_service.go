package services

import (
	"fmt"

	"pathfinder/internal/models"
)

// PersonaClassifier turns accumulated evidence into a behavioral persona.
// Classify is a pure function of its input: identical evidence yields an
// identical classification, so tests stay deterministic even though the
// evidence itself comes from a potentially non-deterministic extractor.
type PersonaClassifier struct{}

// NewPersonaClassifier creates a classifier.
func NewPersonaClassifier() *PersonaClassifier {
	return &PersonaClassifier{}
}

// Classify scores each persona against the evidence and returns the best
// match. Confidence is not monotone across calls: contradicting evidence can
// lower it on re-classification.
func (c *PersonaClassifier) Classify(evidence models.EvidenceRecord) models.PersonaClassification {
	if evidence.IsEmpty() {
		return models.PersonaClassification{Type: models.PersonaUnknown, Confidence: 0}
	}

	interests := float64(len(evidence.Interests))
	goals := float64(len(evidence.Goals))
	skills := float64(len(evidence.Skills))
	excitement := float64(countMarker(evidence.EmotionalMarkers, MarkerExcitement) +
		countMarker(evidence.EmotionalMarkers, MarkerUrgency))
	anxiety := float64(countMarker(evidence.EmotionalMarkers, MarkerAnxiety))

	scores := map[models.PersonaType]float64{
		models.PersonaExplorer:            interests*1.0 - goals*0.5,
		models.PersonaGoalDriven:          goals*1.2 + skills*0.2,
		models.PersonaSkillBuilder:        skills*1.2 + goals*0.2,
		models.PersonaEnthusiastConverter: excitement*1.5 + interests*0.3,
		models.PersonaUncertainNewcomer:   anxiety*1.5 - (interests+goals+skills)*0.2,
	}

	best := models.PersonaUnknown
	bestScore := 0.0
	// Deterministic tie-break: fixed evaluation order.
	for _, p := range []models.PersonaType{
		models.PersonaGoalDriven,
		models.PersonaSkillBuilder,
		models.PersonaExplorer,
		models.PersonaEnthusiastConverter,
		models.PersonaUncertainNewcomer,
	} {
		if scores[p] > bestScore {
			best = p
			bestScore = scores[p]
		}
	}

	if best == models.PersonaUnknown {
		return models.PersonaClassification{Type: models.PersonaUnknown, Confidence: 0}
	}

	// Confidence grows with the margin over the runner-up and with overall
	// evidence volume, capped at 0.95.
	runnerUp := 0.0
	for p, s := range scores {
		if p != best && s > runnerUp {
			runnerUp = s
		}
	}
	margin := bestScore - runnerUp
	volume := interests + goals + skills + excitement + anxiety
	confidence := 0.3 + 0.1*margin + 0.05*volume
	if confidence > 0.95 {
		confidence = 0.95
	}
	if confidence < 0 {
		confidence = 0
	}

	return models.PersonaClassification{
		Type:         best,
		Confidence:   confidence,
		EvidenceRefs: evidenceRefs(evidence),
	}
}

func countMarker(markers []string, marker string) int {
	n := 0
	for _, m := range markers {
		if m == marker {
			n++
		}
	}
	return n
}

func evidenceRefs(evidence models.EvidenceRecord) []string {
	refs := make([]string, 0, len(evidence.Interests)+len(evidence.Goals)+len(evidence.Skills))
	for _, v := range evidence.Interests {
		refs = append(refs, fmt.Sprintf("interest:%s", v))
	}
	for _, v := range evidence.Goals {
		refs = append(refs, fmt.Sprintf("goal:%s", v))
	}
	for _, v := range evidence.Skills {
		refs = append(refs, fmt.Sprintf("skill:%s", v))
	}
	return refs
}
