package services

import (
	"context"
	"log"
	"strings"

	"pathfinder/internal/models"
)

// Emotional marker values produced by extraction. The policy engine keys
// instant-insight eligibility off excitement and urgency markers.
const (
	MarkerExcitement = "excitement"
	MarkerUrgency    = "urgency"
	MarkerAnxiety    = "anxiety"
	MarkerConfidence = "confidence"
)

// Extractor turns one conversational turn into a partial evidence record.
// Returning an empty record is not an error: many turns carry no new signal.
type Extractor interface {
	Extract(ctx context.Context, turn Turn) (models.EvidenceRecord, error)
}

// evidenceLexicon maps surface keywords to canonical evidence values.
// Grouped by category; multiple keywords may map to the same canonical value
// (e.g. "figma" and "photoshop" both indicate a design interest).
var interestLexicon = map[string]string{
	"coding": "coding", "programming": "coding", "code": "coding",
	"software": "coding", "developer": "coding",
	"figma": "design", "design": "design", "photoshop": "design",
	"drawing": "design", "art": "design", "ux": "design",
	"writing": "writing", "blogging": "writing", "journalism": "writing",
	"music": "music", "guitar": "music", "singing": "music",
	"science": "science", "biology": "science", "chemistry": "science",
	"physics": "science", "research": "science",
	"math": "mathematics", "maths": "mathematics", "mathematics": "mathematics",
	"business": "business", "entrepreneur": "business", "startup": "business",
	"marketing": "marketing", "advertising": "marketing",
	"teaching": "education", "mentoring": "education",
	"gaming": "gaming", "games": "gaming",
	"data": "data", "analytics": "data", "statistics": "data",
	"health": "healthcare", "medicine": "healthcare", "nursing": "healthcare",
	"environment": "sustainability", "climate": "sustainability",
	"finance": "finance", "investing": "finance",
}

var goalLexicon = map[string]string{
	"promotion": "career advancement", "promoted": "career advancement",
	"lead": "leadership", "manager": "leadership", "manage": "leadership",
	"freelance": "independence", "freelancing": "independence",
	"own business": "start a business", "my own company": "start a business",
	"remote": "remote work", "work from home": "remote work",
	"degree": "further education", "university": "further education",
	"masters": "further education", "study": "further education",
	"salary": "higher income", "earn more": "higher income",
	"switch careers": "career change", "change careers": "career change",
	"new career": "career change", "career change": "career change",
	"apprenticeship": "apprenticeship",
	"impact":         "meaningful work", "make a difference": "meaningful work",
}

var skillLexicon = map[string]string{
	"python": "python", "javascript": "javascript", "typescript": "javascript",
	"java": "java", "sql": "sql", "excel": "spreadsheets",
	"communication": "communication", "presenting": "communication",
	"public speaking": "communication",
	"leadership":      "leadership", "teamwork": "teamwork",
	"organised": "organization", "organized": "organization",
	"problem solving": "problem solving", "problem-solving": "problem solving",
	"languages": "languages", "spanish": "languages", "french": "languages",
	"photography": "photography", "video editing": "video editing",
}

var emotionalLexicon = map[string]string{
	"love": MarkerExcitement, "excited": MarkerExcitement,
	"exciting": MarkerExcitement, "amazing": MarkerExcitement,
	"can't wait": MarkerExcitement, "cant wait": MarkerExcitement,
	"passionate": MarkerExcitement, "awesome": MarkerExcitement,
	"asap": MarkerUrgency, "urgent": MarkerUrgency,
	"right away": MarkerUrgency, "as soon as possible": MarkerUrgency,
	"need a job": MarkerUrgency,
	"worried":    MarkerAnxiety, "nervous": MarkerAnxiety,
	"scared": MarkerAnxiety, "anxious": MarkerAnxiety,
	"lost": MarkerAnxiety, "no idea": MarkerAnxiety,
	"overwhelmed": MarkerAnxiety,
	"confident":   MarkerConfidence, "sure": MarkerConfidence,
	"ready": MarkerConfidence,
}

// HeuristicExtractor is a deterministic, in-process lexicon matcher. It is
// the default extractor and the fallback when a model-assisted extractor
// fails.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates the lexicon-based extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

// Extract scans the turn text for lexicon matches. Only user turns carry
// evidence; assistant turns return an empty record.
func (x *HeuristicExtractor) Extract(_ context.Context, turn Turn) (models.EvidenceRecord, error) {
	partial := models.NewEvidenceRecord()
	if turn.Role != "user" {
		return partial, nil
	}

	lower := strings.ToLower(turn.Text)

	for keyword, value := range interestLexicon {
		if containsWord(lower, keyword) {
			partial.Interests = append(partial.Interests, value)
		}
	}
	for keyword, value := range goalLexicon {
		if containsWord(lower, keyword) {
			partial.Goals = append(partial.Goals, value)
		}
	}
	for keyword, value := range skillLexicon {
		if containsWord(lower, keyword) {
			partial.Skills = append(partial.Skills, value)
		}
	}
	for keyword, value := range emotionalLexicon {
		if containsWord(lower, keyword) {
			partial.EmotionalMarkers = append(partial.EmotionalMarkers, value)
		}
	}

	partial.Interests = dedupeSorted(partial.Interests)
	partial.Goals = dedupeSorted(partial.Goals)
	partial.Skills = dedupeSorted(partial.Skills)
	partial.EmotionalMarkers = dedupeSorted(partial.EmotionalMarkers)

	if !partial.IsEmpty() {
		// More distinct signal categories -> higher extraction confidence.
		c := 0.4 + 0.15*float64(partial.PopulatedCategories())
		if c > 0.9 {
			c = 0.9
		}
		partial.Confidence = &c
	}

	return partial, nil
}

// EvidenceService runs extraction for a turn and merges the result into the
// session's evidence accumulator. Extraction failure is non-fatal: the turn
// has already been appended to history by the orchestrator, and the merge is
// simply skipped.
type EvidenceService struct {
	extractor Extractor
	fallback  Extractor
}

// NewEvidenceService creates an evidence service. extractor may be a
// model-assisted implementation; the heuristic extractor is always kept as
// fallback.
func NewEvidenceService(extractor Extractor) *EvidenceService {
	heuristic := NewHeuristicExtractor()
	if extractor == nil {
		extractor = heuristic
	}
	return &EvidenceService{extractor: extractor, fallback: heuristic}
}

// ExtractTurn extracts evidence from the turn and merges it into the
// session. Returns the partial record extracted from this turn (possibly
// empty) so the caller can evaluate per-turn policy signals.
func (s *EvidenceService) ExtractTurn(ctx context.Context, session *models.Session, turn Turn) models.EvidenceRecord {
	partial, err := s.extractor.Extract(ctx, turn)
	if err != nil {
		log.Printf("⚠️ [EVIDENCE] Extraction failed for session %s: %v (falling back to heuristic)", session.ID, err)
		partial, err = s.fallback.Extract(ctx, turn)
		if err != nil {
			// Non-fatal: evidence unchanged, conversation continues.
			return models.NewEvidenceRecord()
		}
	}

	if partial.IsEmpty() {
		return partial
	}

	session.Lock()
	session.Evidence.Merge(partial)
	session.Unlock()

	log.Printf("🔍 [EVIDENCE] Session %s: +%d interests, +%d goals, +%d skills, +%d markers",
		session.ID, len(partial.Interests), len(partial.Goals), len(partial.Skills), len(partial.EmotionalMarkers))
	return partial
}

// containsWord reports whether text contains keyword on word boundaries for
// single-word keywords, or as a substring for phrases.
func containsWord(text, keyword string) bool {
	if strings.ContainsAny(keyword, " '") {
		return strings.Contains(text, keyword)
	}
	start := 0
	for {
		idx := strings.Index(text[start:], keyword)
		if idx < 0 {
			return false
		}
		idx += start
		before := idx == 0 || !isWordChar(text[idx-1])
		afterIdx := idx + len(keyword)
		after := afterIdx >= len(text) || !isWordChar(text[afterIdx])
		if before && after {
			return true
		}
		start = idx + len(keyword)
		if start >= len(text) {
			return false
		}
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// dedupeSorted removes duplicates and sorts for deterministic output, since
// map iteration order would otherwise leak into evidence ordering.
func dedupeSorted(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	// insertion sort, slices are tiny
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
