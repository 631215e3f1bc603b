package models

// EvidenceRecord is the typed bag of signal extracted from conversation
// turns. Set-valued fields are append-only: merging unions new values in and
// never removes previously captured evidence. Scalar fields take the most
// recent non-null value.
type EvidenceRecord struct {
	Interests        []string `json:"interests"`
	Goals            []string `json:"goals"`
	Skills           []string `json:"skills"`
	EmotionalMarkers []string `json:"emotional_markers"`

	// Confidence is the extractor's confidence in the accumulated evidence,
	// in [0,1]. Nil means no extraction has produced a confidence yet.
	Confidence *float64 `json:"confidence,omitempty"`
}

// NewEvidenceRecord returns an empty record with initialized sets.
func NewEvidenceRecord() EvidenceRecord {
	return EvidenceRecord{
		Interests:        make([]string, 0),
		Goals:            make([]string, 0),
		Skills:           make([]string, 0),
		EmotionalMarkers: make([]string, 0),
	}
}

// Merge unions the partial record into this one. Insertion order is
// preserved so evidence growth is observable and deterministic in tests.
func (e *EvidenceRecord) Merge(partial EvidenceRecord) {
	e.Interests = unionStrings(e.Interests, partial.Interests)
	e.Goals = unionStrings(e.Goals, partial.Goals)
	e.Skills = unionStrings(e.Skills, partial.Skills)
	e.EmotionalMarkers = unionStrings(e.EmotionalMarkers, partial.EmotionalMarkers)
	if partial.Confidence != nil {
		c := *partial.Confidence
		e.Confidence = &c
	}
}

// IsEmpty reports whether the record carries no signal at all.
func (e *EvidenceRecord) IsEmpty() bool {
	return len(e.Interests) == 0 && len(e.Goals) == 0 &&
		len(e.Skills) == 0 && len(e.EmotionalMarkers) == 0 && e.Confidence == nil
}

// PopulatedCategories counts how many of {interests, goals, skills} hold at
// least one value. The discovery→classification transition requires 2.
func (e *EvidenceRecord) PopulatedCategories() int {
	count := 0
	if len(e.Interests) > 0 {
		count++
	}
	if len(e.Goals) > 0 {
		count++
	}
	if len(e.Skills) > 0 {
		count++
	}
	return count
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (e *EvidenceRecord) Clone() EvidenceRecord {
	out := EvidenceRecord{
		Interests:        append([]string(nil), e.Interests...),
		Goals:            append([]string(nil), e.Goals...),
		Skills:           append([]string(nil), e.Skills...),
		EmotionalMarkers: append([]string(nil), e.EmotionalMarkers...),
	}
	if e.Confidence != nil {
		c := *e.Confidence
		out.Confidence = &c
	}
	return out
}

func unionStrings(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range incoming {
		if v == "" || seen[v] {
			continue
		}
		existing = append(existing, v)
		seen[v] = true
	}
	return existing
}
