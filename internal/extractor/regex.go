package extractor

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// RegexExtractor finds candidate entities and facts with a fixed set of
// compiled patterns, each category carrying its own confidence. It never
// blocks and never errors; it is always available as the extraction
// pipeline's baseline layer.
type RegexExtractor struct{}

func NewRegexExtractor() *RegexExtractor { return &RegexExtractor{} }

func (r *RegexExtractor) Name() string { return "regex" }

var (
	personPattern = regexp.MustCompile(
		`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,2})(?:'s)?\b`)
	roleMarkerPattern = regexp.MustCompile(
		`(?i)\b(Mr\.|Mrs\.|Ms\.|Dr\.|CEO|CTO|VP|Director|Manager)\s+([A-Z][a-z]+)\b`)
	orgSuffixPattern = regexp.MustCompile(
		`\b([A-Z][A-Za-z0-9&]+(?:\s+[A-Z][A-Za-z0-9&]+)*\s+(?:Inc|Corp|LLC|Ltd)\.?)\b`)
	orgAcronymPattern = regexp.MustCompile(`\b([A-Z]{2,5})\b`)
	projectPattern    = regexp.MustCompile(
		`(?i)\b([A-Z][\w-]*(?:\s+[A-Z][\w-]*)*)\s+(project|initiative|proposal)\b`)
	quarterPattern = regexp.MustCompile(`\bQ[1-4]\s?['’]?\d{0,2}\b`)

	commitmentPattern = regexp.MustCompile(
		`(?i)\b(I'?ll\s+[^.!?\n]+|by\s+[^.!?\n]+|(?:send|deliver|complete|finish)\s+[^.!?\n]+)[.!?]?`)
	preferencePattern = regexp.MustCompile(
		`(?i)\b(I\s+(?:prefer|like|want)\s+[^.!?\n]+|better\s+to\s+[^.!?\n]+)[.!?]?`)
)

var stopWords = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"january": true, "february": true, "march": true, "april": true, "may": true,
	"june": true, "july": true, "august": true, "september": true, "october": true,
	"november": true, "december": true,
	"i": true, "he": true, "she": true, "they": true, "we": true, "you": true, "it": true,
}

func isStopWord(s string) bool { return stopWords[strings.ToLower(strings.TrimSpace(s))] }

func (r *RegexExtractor) Extract(ctx context.Context, text string) ([]Entity, []Relationship, error) {
	seen := map[string]Entity{}
	addEntity := func(name, typ string, confidence float64) {
		name = strings.TrimSpace(strings.TrimSuffix(name, "'s"))
		if name == "" || isStopWord(name) {
			return
		}
		key := strings.ToLower(name) + "|" + typ
		if existing, ok := seen[key]; ok && existing.Confidence >= confidence {
			return
		}
		seen[key] = Entity{Name: name, Type: typ, Confidence: confidence, Source: "regex"}
	}

	for _, m := range personPattern.FindAllStringSubmatch(text, -1) {
		if orgSuffixPattern.MatchString(m[1]) {
			continue // "Acme Corp" is an organization, not a person
		}
		addEntity(m[1], "person", 0.6)
	}
	for _, m := range roleMarkerPattern.FindAllStringSubmatch(text, -1) {
		addEntity(m[2], "person", 0.6)
	}
	for _, m := range orgSuffixPattern.FindAllStringSubmatch(text, -1) {
		addEntity(m[1], "organization", 0.5)
	}
	for _, m := range orgAcronymPattern.FindAllStringSubmatch(text, -1) {
		addEntity(m[1], "organization", 0.5)
	}
	for _, m := range projectPattern.FindAllStringSubmatch(text, -1) {
		addEntity(m[1], "project", 0.5)
	}
	for _, m := range quarterPattern.FindAllString(text, -1) {
		addEntity(m, "project", 0.5)
	}

	entities := make([]Entity, 0, len(seen))
	for _, e := range seen {
		entities = append(entities, e)
	}
	return entities, nil, nil
}

// ExtractFacts finds candidate commitments and preferences, linking each
// to any already-known entity name it mentions by case-insensitive
// substring. This under-links pronoun and alias references; callers that
// need exact provenance pass about_entities explicitly.
func ExtractFacts(text string, knownEntityNames []string) []Fact {
	var facts []Fact

	for _, m := range commitmentPattern.FindAllString(text, -1) {
		hasDeadline := deadlinePattern.MatchString(m)
		fact := Fact{
			Content:       strings.TrimSpace(m),
			Type:          "commitment",
			Confidence:    0.7,
			HasDeadline:   hasDeadline,
			AboutEntities: matchKnownEntities(m, knownEntityNames),
		}
		if hasDeadline {
			if marker, ok := ResolveDeadline(m, time.Now()); ok {
				fact.DeadlineAt = &marker.ResolvedDate
			}
		}
		facts = append(facts, fact)
	}
	for _, m := range preferencePattern.FindAllString(text, -1) {
		facts = append(facts, Fact{
			Content:       strings.TrimSpace(m),
			Type:          "preference",
			Confidence:    0.6,
			AboutEntities: matchKnownEntities(m, knownEntityNames),
		})
	}
	return facts
}

var deadlinePattern = regexp.MustCompile(
	`(?i)\b(by|on|before|due|deadline|next|tomorrow|today|monday|tuesday|wednesday|thursday|friday|saturday|sunday|january|february|march|april|may|june|july|august|september|october|november|december|\d{1,2}/\d{1,2})\b`)

func matchKnownEntities(text string, knownEntityNames []string) []string {
	lower := strings.ToLower(text)
	var matches []string
	for _, name := range knownEntityNames {
		if name == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(name)) {
			matches = append(matches, name)
		}
	}
	return matches
}

// ExtractRelationships finds explicit "A -> B (relation)" lines and turns
// them into candidate entity-to-entity edges.
func ExtractRelationships(text string) []Relationship {
	relPat := regexp.MustCompile(`(?m)^\s*-\s+(.+?)\s+->\s+(.+?)(?:\s+\(([^)]+)\))?$`)
	matches := relPat.FindAllStringSubmatch(text, -1)

	var rels []Relationship
	for _, match := range matches {
		relType := "associated_with"
		if len(match) > 3 && match[3] != "" {
			relType = strings.TrimSpace(match[3])
		}
		rels = append(rels, Relationship{
			FromEntity: strings.TrimSpace(match[1]),
			ToEntity:   strings.TrimSpace(match[2]),
			Type:       relType,
		})
	}
	return rels
}
