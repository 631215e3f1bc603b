package services

import (
	"sort"
	"time"

	"pathfinder/internal/models"
)

// careerField is one entry in the built-in matching catalog. Tags are
// matched against canonical evidence values (interests, goals, skills).
type careerField struct {
	Title       string
	Description string
	Tags        []string
	NextSteps   []string
}

// careerCatalog is the first-pass matching source. The second pass
// (enhancement) verifies matches against live market data; this catalog only
// needs to be broad, not current.
var careerCatalog = []careerField{
	{
		Title:       "Software Engineer",
		Description: "Design and build software systems, from web apps to infrastructure.",
		Tags:        []string{"coding", "python", "javascript", "java", "problem solving", "gaming"},
		NextSteps:   []string{"Build a small portfolio project", "Explore a beginner-friendly language like Python"},
	},
	{
		Title:       "UX Designer",
		Description: "Shape how products look, feel and behave for the people using them.",
		Tags:        []string{"design", "coding", "communication", "photography"},
		NextSteps:   []string{"Redesign a screen of an app you use daily", "Learn a design tool end to end"},
	},
	{
		Title:       "Data Analyst",
		Description: "Turn raw data into decisions with analysis and visualization.",
		Tags:        []string{"data", "mathematics", "sql", "spreadsheets", "problem solving"},
		NextSteps:   []string{"Analyze a public dataset you care about", "Learn SQL basics"},
	},
	{
		Title:       "Digital Marketer",
		Description: "Grow audiences and products through campaigns, content and analytics.",
		Tags:        []string{"marketing", "writing", "business", "data", "communication"},
		NextSteps:   []string{"Run a small campaign for a local cause", "Study a brand whose voice you admire"},
	},
	{
		Title:       "Product Manager",
		Description: "Decide what gets built and why, sitting between users, business and engineering.",
		Tags:        []string{"business", "leadership", "communication", "problem solving", "career advancement"},
		NextSteps:   []string{"Write a one-page spec for a product idea", "Interview three people about a problem they have"},
	},
	{
		Title:       "Registered Nurse",
		Description: "Provide hands-on care and advocate for patients across healthcare settings.",
		Tags:        []string{"healthcare", "teamwork", "communication", "meaningful work"},
		NextSteps:   []string{"Shadow a professional for a day", "Look into local nursing programs"},
	},
	{
		Title:       "Research Scientist",
		Description: "Investigate open questions in a field through structured experimentation.",
		Tags:        []string{"science", "mathematics", "data", "further education"},
		NextSteps:   []string{"Read a recent paper in a field you like", "Reach out to a lab about assisting"},
	},
	{
		Title:       "Content Writer",
		Description: "Craft articles, scripts and copy for publications and brands.",
		Tags:        []string{"writing", "marketing", "languages", "independence"},
		NextSteps:   []string{"Publish one piece a week for a month", "Pitch a story to a small publication"},
	},
	{
		Title:       "Teacher",
		Description: "Help others learn, in classrooms or through online education.",
		Tags:        []string{"education", "communication", "meaningful work", "languages"},
		NextSteps:   []string{"Tutor someone in a subject you know well", "Explore teaching certification routes"},
	},
	{
		Title:       "Financial Analyst",
		Description: "Evaluate investments, budgets and business performance.",
		Tags:        []string{"finance", "mathematics", "data", "spreadsheets", "higher income"},
		NextSteps:   []string{"Follow one company's financials for a quarter", "Learn financial modeling basics"},
	},
	{
		Title:       "Sustainability Consultant",
		Description: "Help organizations reduce environmental impact and meet climate goals.",
		Tags:        []string{"sustainability", "science", "business", "meaningful work"},
		NextSteps:   []string{"Audit the footprint of something you're part of", "Follow climate policy in your region"},
	},
	{
		Title:       "Entrepreneur",
		Description: "Build your own venture from idea to operating business.",
		Tags:        []string{"business", "start a business", "independence", "leadership", "marketing"},
		NextSteps:   []string{"Validate one idea with ten potential customers", "Start something tiny this month"},
	},
	{
		Title:       "Music Producer",
		Description: "Record, arrange and produce music for artists and media.",
		Tags:        []string{"music", "design", "independence"},
		NextSteps:   []string{"Produce one full track start to finish", "Collaborate with a local artist"},
	},
	{
		Title:       "Video Editor",
		Description: "Cut footage into stories for film, social and broadcast.",
		Tags:        []string{"video editing", "design", "photography", "gaming"},
		NextSteps:   []string{"Re-edit a trailer in your own style", "Learn one editor deeply"},
	},
}

// matchCareers scores the catalog against accumulated evidence and returns
// directions sorted by score (descending, title ascending for ties). Only
// careers with at least one matched tag are returned.
func matchCareers(evidence models.EvidenceRecord, profile ProfileSnapshot) []models.CareerDirection {
	values := make(map[string]bool)
	for _, set := range [][]string{
		evidence.Interests, evidence.Goals, evidence.Skills,
		profile.Interests, profile.Goals, profile.Skills,
	} {
		for _, v := range set {
			values[v] = true
		}
	}
	if len(values) == 0 {
		return nil
	}

	directions := make([]models.CareerDirection, 0, 4)
	for _, field := range careerCatalog {
		matched := make([]string, 0, 2)
		for _, tag := range field.Tags {
			if values[tag] {
				matched = append(matched, tag)
			}
		}
		if len(matched) == 0 {
			continue
		}
		score := float64(len(matched)) / float64(len(field.Tags))
		if score > 1 {
			score = 1
		}
		directions = append(directions, models.CareerDirection{
			Title:       field.Title,
			Description: field.Description,
			Score:       score,
			MatchedOn:   matched,
			NextSteps:   append([]string(nil), field.NextSteps...),
		})
	}

	sort.Slice(directions, func(i, j int) bool {
		if directions[i].Score != directions[j].Score {
			return directions[i].Score > directions[j].Score
		}
		return directions[i].Title < directions[j].Title
	})
	return directions
}

// buildAnalysis wraps matched directions into a CareerAnalysis.
func buildAnalysis(evidence models.EvidenceRecord, profile ProfileSnapshot, triggerReason string) *models.CareerAnalysis {
	return &models.CareerAnalysis{
		Directions:    matchCareers(evidence, profile),
		TriggerReason: triggerReason,
		AnalyzedAt:    time.Now(),
	}
}
