package services

import (
	"reflect"
	"testing"

	"pathfinder/internal/models"
)

func TestPersonaClassifier_EmptyEvidence(t *testing.T) {
	c := NewPersonaClassifier()
	got := c.Classify(models.NewEvidenceRecord())
	if got.Type != models.PersonaUnknown || got.Confidence != 0 {
		t.Errorf("Classify(empty) = %+v, want unknown with zero confidence", got)
	}
}

func TestPersonaClassifier_Deterministic(t *testing.T) {
	c := NewPersonaClassifier()
	evidence := models.EvidenceRecord{
		Interests:        []string{"coding", "design"},
		Goals:            []string{"career change"},
		Skills:           []string{"python"},
		EmotionalMarkers: []string{MarkerExcitement},
	}

	first := c.Classify(evidence)
	for i := 0; i < 10; i++ {
		if got := c.Classify(evidence); !reflect.DeepEqual(got, first) {
			t.Fatalf("identical evidence produced different classifications: %+v vs %+v", got, first)
		}
	}
}

func TestPersonaClassifier_Archetypes(t *testing.T) {
	tests := []struct {
		name     string
		evidence models.EvidenceRecord
		want     models.PersonaType
	}{
		{
			"goal driven",
			models.EvidenceRecord{Goals: []string{"career advancement", "higher income", "leadership"}},
			models.PersonaGoalDriven,
		},
		{
			"skill builder",
			models.EvidenceRecord{Skills: []string{"python", "sql", "spreadsheets"}, Goals: []string{"career change"}},
			models.PersonaSkillBuilder,
		},
		{
			"explorer",
			models.EvidenceRecord{Interests: []string{"coding", "music", "science", "design"}},
			models.PersonaExplorer,
		},
		{
			"enthusiast",
			models.EvidenceRecord{Interests: []string{"coding"}, EmotionalMarkers: []string{MarkerExcitement, MarkerExcitement, MarkerUrgency}},
			models.PersonaEnthusiastConverter,
		},
		{
			"uncertain newcomer",
			models.EvidenceRecord{EmotionalMarkers: []string{MarkerAnxiety, MarkerAnxiety}},
			models.PersonaUncertainNewcomer,
		},
	}

	c := NewPersonaClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.evidence)
			if got.Type != tt.want {
				t.Errorf("Classify() = %s (%.2f), want %s", got.Type, got.Confidence, tt.want)
			}
			if got.Confidence <= 0 || got.Confidence > 0.95 {
				t.Errorf("Confidence = %v, want (0, 0.95]", got.Confidence)
			}
		})
	}
}

func TestPersonaClassifier_ConfidenceCanDrop(t *testing.T) {
	c := NewPersonaClassifier()

	strong := c.Classify(models.EvidenceRecord{
		Goals: []string{"career advancement", "higher income", "leadership"},
	})

	// Contradicting evidence narrows the margin between personas, so the
	// re-classification is allowed to be less confident.
	mixed := c.Classify(models.EvidenceRecord{
		Goals:  []string{"career advancement", "higher income", "leadership"},
		Skills: []string{"python", "sql", "communication"},
	})

	if strong.Type != models.PersonaGoalDriven {
		t.Fatalf("baseline type = %s", strong.Type)
	}
	if mixed.Confidence >= strong.Confidence+0.2 {
		t.Errorf("expected margin compression to restrain confidence: %.2f -> %.2f", strong.Confidence, mixed.Confidence)
	}
}

func TestPersonaClassifier_EvidenceRefs(t *testing.T) {
	c := NewPersonaClassifier()
	got := c.Classify(models.EvidenceRecord{
		Interests: []string{"coding"},
		Goals:     []string{"career change"},
		Skills:    []string{"python"},
	})

	want := []string{"interest:coding", "goal:career change", "skill:python"}
	if !reflect.DeepEqual(got.EvidenceRefs, want) {
		t.Errorf("EvidenceRefs = %v, want %v", got.EvidenceRefs, want)
	}
}
