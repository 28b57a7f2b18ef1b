package extractor

import (
	"context"
	"log/slog"
	"time"
)

// Pipeline runs every configured Extractor over a text and merges the
// results, letting higher-confidence sources (the optional NLP layer)
// supersede regex matches for the same entity name.
type Pipeline struct {
	extractors []Extractor
}

// NewPipeline builds the always-available regex stage. NLP is added
// separately via WithOllama once a model is confirmed reachable, since
// construction itself (building an *api.Client) can fail independently of
// whether the server is actually up.
func NewPipeline() *Pipeline {
	return &Pipeline{
		extractors: []Extractor{
			NewRegexExtractor(),
		},
	}
}

// WithOllama appends an NLP extractor to the pipeline. Callers typically
// guard this with an Available(ctx) probe first so a missing model doesn't
// silently degrade every extraction call's latency.
func (p *Pipeline) WithOllama(o *OllamaExtractor) *Pipeline {
	p.extractors = append(p.extractors, o)
	return p
}

// ExtractionResult contains all extracted information and metadata.
type ExtractionResult struct {
	Entities      []Entity
	Relationships []Relationship
	Duration      time.Duration
	Extractors    []string
}

// Run executes every extractor and merges their output. Entity merge keeps
// the highest-confidence candidate per (lowercased name); relationships
// across extractors are deduplicated on (from, to, type).
func (p *Pipeline) Run(ctx context.Context, text string) (*ExtractionResult, error) {
	start := time.Now()

	entitiesByKey := make(map[string]Entity)
	seenRelationships := make(map[string]bool)
	var relationships []Relationship
	var ran []string

	for _, ext := range p.extractors {
		entities, rels, err := ext.Extract(ctx, text)
		if err != nil {
			slog.Warn("extractor failed", "extractor", ext.Name(), "error", err)
			continue
		}
		ran = append(ran, ext.Name())

		for _, e := range entities {
			key := entityKey(e.Name)
			if existing, ok := entitiesByKey[key]; !ok || e.Confidence > existing.Confidence {
				entitiesByKey[key] = e
			}
		}
		for _, r := range rels {
			key := r.FromEntity + "|" + r.ToEntity + "|" + r.Type
			if seenRelationships[key] {
				continue
			}
			seenRelationships[key] = true
			relationships = append(relationships, r)
		}
	}

	for _, r := range ExtractRelationships(text) {
		key := r.FromEntity + "|" + r.ToEntity + "|" + r.Type
		if seenRelationships[key] {
			continue
		}
		seenRelationships[key] = true
		relationships = append(relationships, r)
	}

	resultEntities := make([]Entity, 0, len(entitiesByKey))
	for _, e := range entitiesByKey {
		resultEntities = append(resultEntities, e)
	}

	return &ExtractionResult{
		Entities:      resultEntities,
		Relationships: relationships,
		Duration:      time.Since(start),
		Extractors:    ran,
	}, nil
}

func entityKey(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
