package skill

import "strings"

// categoryKeywords maps a category to the keywords that vote for it.
// Ordered so that more specific categories win ties over broad ones.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"testing", []string{"test", "testing", "coverage", "mock", "fixture", "assertion", "tdd"}},
	{"security", []string{"security", "vulnerability", "audit", "secret", "cve", "penetration", "sast"}},
	{"devops", []string{"deploy", "deployment", "docker", "kubernetes", "terraform", "ci/cd", "pipeline", "infrastructure"}},
	{"data", []string{"data", "sql", "database", "etl", "analytics", "pandas", "query", "dataset"}},
	{"documentation", []string{"document", "documentation", "readme", "changelog", "docstring", "api reference"}},
	{"writing", []string{"writing", "blog", "essay", "copywriting", "proofread", "tone", "editorial"}},
	{"design", []string{"design", "ui", "ux", "figma", "wireframe", "accessibility", "css"}},
	{"productivity", []string{"workflow", "automation", "schedule", "checklist", "planning", "organize"}},
	{"development", []string{"code", "refactor", "debug", "review", "programming", "api", "frontend", "backend"}},
}

// Categorize derives a single category tag from a skill's text. The tag
// is derived, never authored: the front matter has no category field.
func Categorize(name, description, body string) string {
	// Body text is weighted less than name/description to keep long
	// instruction bodies from drowning out the skill's stated purpose.
	primary := strings.ToLower(name + " " + description)
	secondary := strings.ToLower(body)

	best := "general"
	bestScore := 0
	for _, c := range categoryKeywords {
		score := 0
		for _, kw := range c.keywords {
			score += strings.Count(primary, kw) * 3
			score += strings.Count(secondary, kw)
		}
		if score > bestScore {
			best = c.category
			bestScore = score
		}
	}
	return best
}
