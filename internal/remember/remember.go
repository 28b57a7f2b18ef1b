// Package remember implements the write-path operations of the memory
// graph: storing facts and entities, relating entities, buffering
// conversation turns, and closing out sessions into an episode narrative.
//
// RememberFact, RememberEntity, RelateEntities, and BufferTurn each run
// inside a single storage.Transaction so dedupe, insert, and link steps are
// all-or-nothing. EndSession and MergeEntities run several steps that do not
// share one transaction.
package remember

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/claudia-memory/claudia/internal/embedding"
	"github.com/claudia-memory/claudia/internal/extractor"
	"github.com/claudia-memory/claudia/internal/guards"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

// ContentHash is the stable SHA-256 over a memory or reflection's raw UTF-8
// content, used both for the content_hash column and for idempotent dedupe:
// remember_fact(s) called twice must return the same memory id.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Service is the write-path entry point, holding the store and an optional
// embedding client (nil when Ollama is unreachable — vector writes are then
// skipped rather than failing the whole operation).
type Service struct {
	store    storage.Store
	embed    *embedding.Client
	pipeline *extractor.Pipeline
}

func New(store storage.Store, embed *embedding.Client) *Service {
	return &Service{store: store, embed: embed}
}

// Result wraps a write operation's row plus any non-fatal guard warnings.
type Result struct {
	Memory   *types.Memory
	Warnings []string
}

// FactInput is remember_fact's argument set. Zero-value Importance/Confidence
// are treated as "unset" and default to 1.0, matching the operation's
// documented defaults — a caller that genuinely wants 0 should pass a value
// that guards will clamp instead (0 is a degenerate weight for either field).
type FactInput struct {
	Content              string
	Type                 string // fact, preference, observation, learning, commitment, pattern_statement
	AboutEntities        []string
	Importance           float64
	Confidence           float64
	Source               string
	Origin               types.OriginType
	Metadata             map[string]any
	PrecomputedEmbedding []float32
	DeadlineAt           *time.Time
}

// RememberFact stores an atomic memory, deduping by content hash so repeated
// calls with identical content return the same row rather than a duplicate.
func (s *Service) RememberFact(ctx context.Context, in FactInput) (*Result, error) {
	if in.Type == "" {
		in.Type = "fact"
	}
	if in.Importance == 0 {
		in.Importance = 1.0
	}
	if in.Confidence == 0 {
		in.Confidence = 1.0
	}
	if in.Origin == "" {
		in.Origin = types.OriginUserStated
	}

	hash := ContentHash(in.Content)
	check := guards.CheckMemory(in.Content, in.Type, in.Importance, in.Confidence, in.DeadlineAt != nil)
	content := check.Adjustments["content"].(string)
	importance := check.Adjustments["importance"].(float64)
	confidence := check.Adjustments["confidence"].(float64)

	var result Result
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if existing, err := tx.GetMemoryByHash(ctx, hash); err == nil && existing != nil {
			if err := tx.TouchMemoryAccess(ctx, existing.ID); err != nil {
				return err
			}
			result.Memory = existing
			return nil
		}

		m := &types.Memory{
			Content:            content,
			ContentHash:        hash,
			Type:               in.Type,
			Importance:         importance,
			Confidence:         confidence,
			OriginType:         in.Origin,
			SourceChannel:      in.Source,
			VerificationStatus: types.VerificationPending,
			DeadlineAt:         in.DeadlineAt,
			Metadata:           in.Metadata,
		}
		id, err := tx.CreateMemory(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id

		for _, name := range in.AboutEntities {
			entityID, err := resolveOrCreateEntity(ctx, tx, name, "")
			if err != nil {
				return fmt.Errorf("resolve about-entity %q: %w", name, err)
			}
			if err := tx.LinkMemoryEntity(ctx, id, entityID, "about"); err != nil {
				return err
			}
		}

		if err := s.embedMemory(ctx, tx, id, content, in.PrecomputedEmbedding); err != nil {
			return err
		}

		result.Memory = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Warnings = check.Warnings
	return &result, nil
}

// embedMemory writes content's embedding into the memory_embeddings side
// table. A nil embed client or an unavailable provider is non-fatal: the
// memory row stands, just without a vector side-table entry, and recall
// falls back to FTS/keyword ranking for it.
func (s *Service) embedMemory(ctx context.Context, tx storage.Transaction, memoryID int64, content string, precomputed []float32) error {
	vec := precomputed
	if vec == nil {
		if s.embed == nil {
			return nil
		}
		v, err := s.embed.Generate(ctx, content)
		if err != nil {
			return nil // degrade silently; embedding.ErrUnavailable/ErrDimensionMismatch are non-fatal here
		}
		vec = v
	}
	return tx.UpsertVector(ctx, "memory_embeddings", memoryID, vec)
}

// EntityInput is remember_entity's argument set.
type EntityInput struct {
	Name                 string
	Type                 string
	Description          string
	Aliases              []string
	Metadata             map[string]string
	PrecomputedEmbedding []float32
}

// EntityResult wraps a remember_entity outcome.
type EntityResult struct {
	Entity   *types.Entity
	Warnings []string
}

// RememberEntity creates or updates an entity by canonical-name+type match,
// merging in any new aliases and description on an existing hit.
func (s *Service) RememberEntity(ctx context.Context, in EntityInput) (*EntityResult, error) {
	existingNames, err := s.existingCanonicalNames(ctx, in.Type)
	if err != nil {
		return nil, err
	}
	check := guards.CheckEntity(in.Name, in.Type, existingNames)
	if !check.IsValid {
		return nil, fmt.Errorf("invalid entity: %s", strings.Join(check.Warnings, "; "))
	}
	name := check.Adjustments["name"].(string)
	entityType := check.Adjustments["type"].(string)
	canonical := extractor.CanonicalName(name)

	var result EntityResult
	err = s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		existing, err := tx.GetEntityByCanonical(ctx, canonical, entityType)
		if err != nil {
			return err
		}
		if existing != nil {
			updates := map[string]any{}
			if in.Description != "" && in.Description != existing.Description {
				updates["description"] = in.Description
			}
			if len(updates) > 0 {
				if err := tx.UpdateEntity(ctx, existing.ID, updates); err != nil {
					return err
				}
			}
			for _, alias := range in.Aliases {
				if err := tx.AddAlias(ctx, existing.ID, alias); err != nil {
					return err
				}
			}
			result.Entity = existing
			return nil
		}

		e := &types.Entity{
			Name:          name,
			CanonicalName: canonical,
			Type:          entityType,
			Description:   in.Description,
			Importance:    1.0,
			AttentionTier: types.TierStandard,
			Attributes:    in.Metadata,
		}
		if err := tx.CreateEntity(ctx, e); err != nil {
			return err
		}
		for _, alias := range in.Aliases {
			if err := tx.AddAlias(ctx, e.ID, alias); err != nil {
				return err
			}
		}
		if s.embed != nil {
			if vec, err := s.embed.Generate(ctx, name+" "+in.Description); err == nil {
				_ = tx.UpsertVector(ctx, "entity_embeddings", e.ID, vec)
			}
		}
		if len(in.PrecomputedEmbedding) > 0 {
			_ = tx.UpsertVector(ctx, "entity_embeddings", e.ID, in.PrecomputedEmbedding)
		}
		result.Entity = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Warnings = check.Warnings
	return &result, nil
}

func (s *Service) existingCanonicalNames(ctx context.Context, entityType string) ([]string, error) {
	entities, err := s.store.SearchEntities(ctx, "", []string{entityType}, 500)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.CanonicalName)
	}
	return names, nil
}

// resolveOrCreateEntity looks an entity up by alias, then by canonical name
// across the common entity types, auto-creating a person when nothing
// matches — about_entities references and relationship endpoints are names,
// not ids, and the graph should still link even when the referent hasn't
// been formally remembered yet. hintType overrides the person default when
// the caller knows better.
func resolveOrCreateEntity(ctx context.Context, tx storage.Transaction, name, hintType string) (int64, error) {
	if e, err := tx.GetEntityByAlias(ctx, name); err == nil && e != nil {
		return e.ID, nil
	}
	canonical := extractor.CanonicalName(name)
	candidateTypes := []string{hintType, "person", "organization", "project", "concept", "location"}
	for _, t := range candidateTypes {
		if t == "" {
			continue
		}
		if e, err := tx.GetEntityByCanonical(ctx, canonical, t); err == nil && e != nil {
			return e.ID, nil
		}
	}
	entityType := hintType
	if entityType == "" {
		entityType = "person"
	}
	e := &types.Entity{
		Name:          strings.TrimSpace(name),
		CanonicalName: canonical,
		Type:          entityType,
		Importance:    0.5,
		AttentionTier: types.TierStandard,
	}
	if err := tx.CreateEntity(ctx, e); err != nil {
		return 0, err
	}
	return e.ID, nil
}

// RelateInput is relate_entities's argument set.
type RelateInput struct {
	SourceName       string
	TargetName       string
	RelationshipType string
	Strength         float64
	Direction        types.RelationshipDirection
	Origin           types.OriginType
	Supersedes       bool
	Metadata         map[string]any
}

// RelateEntities creates or updates a relationship tuple. When Supersedes is
// set, the current relationship of the same type (if any) is closed with
// InvalidAt=now before the new row is created, preserving bi-temporal
// history rather than overwriting in place.
func (s *Service) RelateEntities(ctx context.Context, in RelateInput) (*types.Relationship, error) {
	if in.Strength == 0 {
		in.Strength = 1.0
	}
	if in.Direction == "" {
		in.Direction = types.DirectionBidirectional
	}
	if in.Origin == "" {
		in.Origin = types.OriginUserStated
	}

	var rel *types.Relationship
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		sourceID, err := resolveOrCreateEntity(ctx, tx, in.SourceName, "")
		if err != nil {
			return err
		}
		targetID, err := resolveOrCreateEntity(ctx, tx, in.TargetName, "")
		if err != nil {
			return err
		}

		if in.Supersedes {
			// A superseding fact ends every live row of this type from the
			// source, whatever its target: a job change closes the old
			// employment no matter which organization it pointed at.
			existing, err := tx.CurrentRelationshipsOfType(ctx, sourceID, in.RelationshipType)
			if err != nil {
				return err
			}
			now := time.Now()
			for _, old := range existing {
				if err := tx.CloseRelationship(ctx, old.ID, in.RelationshipType, now); err != nil {
					return err
				}
			}
		} else {
			current, err := tx.GetCurrentRelationship(ctx, sourceID, targetID, in.RelationshipType)
			if err != nil {
				return err
			}
			if current != nil {
				// Re-observing the same fact strengthens it rather than
				// superseding: +0.1 clamped at 1.0.
				strengthened := current.Strength + 0.1
				if strengthened > 1.0 {
					strengthened = 1.0
				}
				if err := tx.UpdateRelationshipStrength(ctx, current.ID, strengthened); err != nil {
					return err
				}
				rel = current
				rel.Strength = strengthened
				return nil
			}
		}

		r := &types.Relationship{
			SourceID:   sourceID,
			TargetID:   targetID,
			Type:       in.RelationshipType,
			Strength:   in.Strength,
			Direction:  in.Direction,
			OriginType: in.Origin,
			ValidAt:    time.Now(),
			Metadata:   in.Metadata,
		}
		id, err := tx.CreateRelationship(ctx, r)
		if err != nil {
			return err
		}
		r.ID = id
		rel = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// BufferTurn appends a user/assistant exchange to the open episode for
// sessionID (creating one if none is open), returning the assigned turn
// number.
func (s *Service) BufferTurn(ctx context.Context, sessionID, userContent, assistantContent string) (int64, int, error) {
	var episodeID int64
	var turnNumber int
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		episode, err := tx.GetOrCreateOpenEpisode(ctx, sessionID)
		if err != nil {
			return err
		}
		episodeID = episode.ID
		n, err := tx.AppendTurn(ctx, episode.ID, userContent, assistantContent)
		if err != nil {
			return err
		}
		turnNumber = n
		return nil
	})
	return episodeID, turnNumber, err
}

// EndSessionInput is end_session's argument set: the narrative and any facts,
// entities, or relationships the caller distilled from the session.
type EndSessionInput struct {
	SessionID     string
	Narrative     string
	KeyTopics     []string
	Facts         []FactInput
	Entities      []EntityInput
	Relationships []RelateInput
}

// EndSessionOutcome reports what the session close-out produced.
type EndSessionOutcome struct {
	EpisodeID     int64
	FactsStored   int
	EntitiesTouched int
	Relationships int
}

// EndSession finalizes the open episode for sessionID with a narrative
// summary, then stores any distilled facts/entities/relationships in the
// same logical operation (each via its own transaction, since they're
// independent write paths already guarded and deduped on their own terms).
func (s *Service) EndSession(ctx context.Context, in EndSessionInput) (*EndSessionOutcome, error) {
	var out EndSessionOutcome
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		episode, err := tx.GetOrCreateOpenEpisode(ctx, in.SessionID)
		if err != nil {
			return err
		}
		out.EpisodeID = episode.ID
		if err := tx.FinalizeEpisode(ctx, episode.ID, in.Narrative, in.KeyTopics); err != nil {
			return err
		}
		// Embed the narrative for later semantic session lookup; a down
		// provider just skips the vector, as with memory embeddings.
		if s.embed != nil && in.Narrative != "" {
			if vec, err := s.embed.Generate(ctx, in.Narrative); err == nil {
				_ = tx.UpsertVector(ctx, "episode_embeddings", episode.ID, vec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ei := range in.Entities {
		if _, err := s.RememberEntity(ctx, ei); err != nil {
			return &out, fmt.Errorf("end_session entity %q: %w", ei.Name, err)
		}
		out.EntitiesTouched++
	}
	for _, fi := range in.Facts {
		if _, err := s.RememberFact(ctx, fi); err != nil {
			return &out, fmt.Errorf("end_session fact: %w", err)
		}
		out.FactsStored++
	}
	for _, ri := range in.Relationships {
		if _, err := s.RelateEntities(ctx, ri); err != nil {
			return &out, fmt.Errorf("end_session relationship %q->%q: %w", ri.SourceName, ri.TargetName, err)
		}
		out.Relationships++
	}
	return &out, nil
}

// MergeEntities folds sourceID into targetID: every memory link and
// relationship pointing at sourceID is repointed to targetID, sourceID's
// aliases are preserved on targetID, and sourceID is then soft-deleted.
func (s *Service) MergeEntities(ctx context.Context, sourceID, targetID int64, reason string) error {
	if sourceID == targetID {
		return fmt.Errorf("cannot merge entity %d into itself", sourceID)
	}
	if _, err := s.store.RepointMemoryLinks(ctx, sourceID, targetID); err != nil {
		return fmt.Errorf("repoint memory links: %w", err)
	}
	if _, err := s.store.RepointRelationships(ctx, sourceID, targetID); err != nil {
		return fmt.Errorf("repoint relationships: %w", err)
	}
	if err := s.copyAliases(ctx, sourceID, targetID); err != nil {
		return fmt.Errorf("copy aliases: %w", err)
	}
	return s.store.SoftDeleteEntity(ctx, sourceID, mergeDeleteReason(reason, targetID))
}

// copyAliases preserves sourceID's own name and any recorded aliases on
// targetID, so lookups that previously resolved to the merged-away entity
// keep resolving correctly.
func (s *Service) copyAliases(ctx context.Context, sourceID, targetID int64) error {
	source, err := s.store.GetEntity(ctx, sourceID)
	if err != nil {
		return err
	}
	aliases, err := s.store.EntityAliases(ctx, sourceID)
	if err != nil {
		return err
	}
	return s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.AddAlias(ctx, targetID, source.Name); err != nil {
			return err
		}
		for _, alias := range aliases {
			if err := tx.AddAlias(ctx, targetID, alias); err != nil {
				return err
			}
		}
		return nil
	})
}

func mergeDeleteReason(reason string, targetID int64) string {
	if reason == "" {
		return fmt.Sprintf("merged into entity %d", targetID)
	}
	return fmt.Sprintf("merged into entity %d: %s", targetID, reason)
}

// DeleteEntity soft-deletes an entity, leaving its memory links and
// relationship history intact for audit: deletes are never hard, so trace
// queries keep their provenance chain.
func (s *Service) DeleteEntity(ctx context.Context, id int64, reason string) error {
	return s.store.SoftDeleteEntity(ctx, id, reason)
}
