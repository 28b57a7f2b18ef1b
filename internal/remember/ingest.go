package remember

import (
	"context"

	"github.com/claudia-memory/claudia/internal/debug"
	"github.com/claudia-memory/claudia/internal/extractor"
	"github.com/claudia-memory/claudia/internal/types"
)

// minExtractionConfidence gates which extracted candidates are written at
// all; everything below it is noise from the coarse regex layer.
const minExtractionConfidence = 0.5

// WithPipeline attaches an extraction pipeline so IngestTurn can pull
// structured knowledge out of raw conversation turns. Without one,
// IngestTurn degrades to plain turn buffering.
func (s *Service) WithPipeline(p *extractor.Pipeline) *Service {
	s.pipeline = p
	return s
}

// IngestTurn is the full write path for one conversation exchange: buffer
// the turn, then extract candidate entities, commitments, preferences, and
// relationships from the user's text and store them with origin=extracted.
// Extraction failures never fail the buffering — the turn is already safe.
func (s *Service) IngestTurn(ctx context.Context, sessionID, userContent, assistantContent string) (int64, int, error) {
	episodeID, turnNumber, err := s.BufferTurn(ctx, sessionID, userContent, assistantContent)
	if err != nil {
		return 0, 0, err
	}
	if s.pipeline == nil {
		return episodeID, turnNumber, nil
	}

	result, err := s.pipeline.Run(ctx, userContent)
	if err != nil {
		debug.Logf("ingest: extraction failed for episode %d turn %d: %v", episodeID, turnNumber, err)
		return episodeID, turnNumber, nil
	}

	var knownNames []string
	for _, e := range result.Entities {
		if e.Confidence < minExtractionConfidence {
			continue
		}
		if _, err := s.RememberEntity(ctx, EntityInput{Name: e.Name, Type: e.Type}); err != nil {
			debug.Logf("ingest: entity %q: %v", e.Name, err)
			continue
		}
		knownNames = append(knownNames, e.Name)
	}

	for _, f := range extractor.ExtractFacts(userContent, knownNames) {
		if f.Confidence < minExtractionConfidence {
			continue
		}
		_, err := s.RememberFact(ctx, FactInput{
			Content:       f.Content,
			Type:          f.Type,
			AboutEntities: f.AboutEntities,
			Importance:    f.Confidence,
			Confidence:    f.Confidence,
			Source:        "turn_extraction",
			Origin:        types.OriginExtracted,
			DeadlineAt:    f.DeadlineAt,
		})
		if err != nil {
			debug.Logf("ingest: fact %q: %v", f.Content, err)
		}
	}

	for _, r := range result.Relationships {
		_, err := s.RelateEntities(ctx, RelateInput{
			SourceName:       r.FromEntity,
			TargetName:       r.ToEntity,
			RelationshipType: r.Type,
			Strength:         0.5,
			Origin:           types.OriginExtracted,
		})
		if err != nil {
			debug.Logf("ingest: relationship %s->%s: %v", r.FromEntity, r.ToEntity, err)
		}
	}

	return episodeID, turnNumber, nil
}
