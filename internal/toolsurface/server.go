package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/claudia-memory/claudia/internal/consolidate"
	"github.com/claudia-memory/claudia/internal/debug"
	"github.com/claudia-memory/claudia/internal/extractor"
	"github.com/claudia-memory/claudia/internal/recall"
	"github.com/claudia-memory/claudia/internal/remember"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

// Server dispatches framed tool calls onto the core services. One request is
// handled at a time per connection; every reply goes through writeResponse,
// which serializes writes with a mutex.
type Server struct {
	store        storage.Store
	remember     *remember.Service
	recall       *recall.Service
	consolidator *consolidate.Service

	writeMu sync.Mutex
}

func NewServer(store storage.Store, rem *remember.Service, rec *recall.Service, cons *consolidate.Service) *Server {
	return &Server{store: store, remember: rem, recall: rec, consolidator: cons}
}

// Serve reads frames from r and writes replies to w until EOF or context
// cancellation. A malformed frame ends the loop (framing is lost); a
// malformed request inside a valid frame gets an in-band error response.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := ReadFrame(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			if werr := s.writeResponse(w, errorResponse(nil, fmt.Errorf("malformed request: %w", err))); werr != nil {
				return werr
			}
			continue
		}

		resp := s.Handle(ctx, &req)
		if err := s.writeResponse(w, resp); err != nil {
			return err
		}
	}
}

func (s *Server) writeResponse(w io.Writer, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(w, b)
}

// Handle runs one tool call, converting any failure into an in-band error
// response so the stdio loop never crashes on a bad request.
func (s *Server) Handle(ctx context.Context, req *Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			debug.Logf("toolsurface: %s panicked: %v", req.Method, r)
			resp = errorResponse(req.ID, fmt.Errorf("internal error handling %s", req.Method))
		}
	}()

	a, err := decodeArgs(req.Params)
	if err != nil {
		return errorResponse(req.ID, fmt.Errorf("decode params: %w", err))
	}

	var result any
	switch req.Method {
	case OpRemember:
		result, err = s.handleRemember(ctx, a)
	case OpRecall:
		result, err = s.handleRecall(ctx, a)
	case OpAbout:
		result, err = s.handleAbout(ctx, a)
	case OpRelate:
		result, err = s.handleRelate(ctx, a)
	case OpPredictions:
		result, err = s.handlePredictions(ctx, a)
	case OpConsolidate:
		result, err = s.consolidator.RunFull(ctx)
	case OpEntity:
		result, err = s.handleEntity(ctx, a)
	case OpSearchEntities:
		result, err = s.recall.SearchEntities(ctx, a.String("query"), a.StringArray("types"), a.Int("limit", 0))
	case OpUpcoming:
		result, err = s.handleUpcoming(ctx, a)
	case OpTrace:
		result, err = s.handleTrace(ctx, a)
	case OpEndSession:
		result, err = s.handleEndSession(ctx, a)
	case OpBufferTurn:
		result, err = s.handleBufferTurn(ctx, a)
	default:
		err = fmt.Errorf("unknown tool %q", req.Method)
	}
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return marshalResult(req.ID, result)
}

func (s *Server) handleRemember(ctx context.Context, a args) (any, error) {
	content := a.String("content")
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	in := remember.FactInput{
		Content:       content,
		Type:          a.String("type"),
		AboutEntities: a.StringArray("about_entities"),
		Importance:    a.Float("importance", 0),
		Confidence:    a.Float("confidence", 0),
		Source:        a.String("source"),
		Metadata:      a.Map("metadata"),
	}
	if in.Type == "commitment" {
		if marker, ok := extractor.ResolveDeadline(content, time.Now()); ok {
			in.DeadlineAt = &marker.ResolvedDate
		}
	}
	res, err := s.remember.RememberFact(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"memory_id": res.Memory.ID,
		"warnings":  res.Warnings,
	}, nil
}

func (s *Server) handleRecall(ctx context.Context, a args) (any, error) {
	filter := types.RecallFilter{
		Types:                a.StringArray("types"),
		AboutEntity:          a.String("about_entity"),
		MinImportance:        a.Float("min_importance", 0),
		IncludeLowImportance: a.Bool("include_low_importance"),
		Limit:                a.Int("limit", 0),
	}
	if since := a.String("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}
	if until := a.String("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = &t
		}
	}
	results, err := s.recall.Recall(ctx, a.String("query"), filter)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"id":         r.Memory.ID,
			"content":    r.Memory.Content,
			"type":       r.Memory.Type,
			"score":      r.Score,
			"importance": r.Memory.Importance,
			"created_at": r.Memory.CreatedAt.UTC().Format(time.RFC3339),
			"entities":   r.RelatedNames,
			"metadata":   r.Memory.Metadata,
		})
	}
	return map[string]any{"memories": out}, nil
}

func (s *Server) handleAbout(ctx context.Context, a args) (any, error) {
	if names := a.StringArray("entities"); len(names) > 1 {
		return s.handleAboutMulti(ctx, names)
	}
	name := a.String("entity")
	if name == "" {
		name = a.String("name")
	}
	if name == "" {
		if names := a.StringArray("entities"); len(names) == 1 {
			name = names[0]
		}
	}
	if name == "" {
		return nil, fmt.Errorf("entity is required")
	}
	overview, err := s.recall.EntityOverview(ctx, name)
	if err != nil {
		return nil, err
	}
	if overview == nil {
		return map[string]any{"found": false}, nil
	}
	rels := overview.Relationships
	if a.Bool("include_historical") {
		rels, err = s.store.CurrentRelationshipsForEntity(ctx, overview.Entity.ID, true)
		if err != nil {
			return nil, err
		}
	}
	relOut := make([]map[string]any, 0, len(rels))
	for _, r := range rels {
		entry := map[string]any{
			"source_id": r.SourceID,
			"target_id": r.TargetID,
			"type":      r.Type,
			"strength":  r.Strength,
			"valid_at":  r.ValidAt.UTC().Format(time.RFC3339),
		}
		if r.InvalidAt != nil {
			entry["invalid_at"] = r.InvalidAt.UTC().Format(time.RFC3339)
		}
		relOut = append(relOut, entry)
	}

	summary, _, hasSummary, _ := s.store.EntitySummary(ctx, overview.Entity.ID)
	result := map[string]any{
		"found":         true,
		"entity":        entityPayload(overview.Entity),
		"aliases":       overview.Aliases,
		"memories":      memoriesPayload(overview.RecentMemories),
		"relationships": relOut,
	}
	if hasSummary {
		result["summary"] = summary
	}
	return result, nil
}

func (s *Server) handleAboutMulti(ctx context.Context, names []string) (any, error) {
	overviews, err := s.recall.EntityOverviewMulti(ctx, names)
	if err != nil {
		return nil, err
	}
	blocks := make([]map[string]any, 0, len(overviews.Entities))
	for _, o := range overviews.Entities {
		blocks = append(blocks, map[string]any{
			"entity":   entityPayload(o.Entity),
			"aliases":  o.Aliases,
			"memories": memoriesPayload(o.RecentMemories),
		})
	}
	return map[string]any{
		"entities":              blocks,
		"cross_entity_patterns": overviews.CrossEntityPatterns,
		"relationship_map":      overviews.RelationshipMap,
	}, nil
}

func (s *Server) handleRelate(ctx context.Context, a args) (any, error) {
	source := a.String("source")
	target := a.String("target")
	relType := a.String("type")
	if relType == "" {
		relType = a.String("relationship_type")
	}
	if source == "" || target == "" || relType == "" {
		return nil, fmt.Errorf("source, target, and type are required")
	}
	rel, err := s.remember.RelateEntities(ctx, remember.RelateInput{
		SourceName:       source,
		TargetName:       target,
		RelationshipType: relType,
		Strength:         a.Float("strength", 0),
		Direction:        types.RelationshipDirection(a.String("direction")),
		Supersedes:       a.Bool("supersedes"),
		Metadata:         a.Map("metadata"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"relationship_id": rel.ID, "strength": rel.Strength}, nil
}

func (s *Server) handlePredictions(ctx context.Context, a args) (any, error) {
	limit := a.Int("limit", 10)
	predictions, err := s.store.PendingPredictions(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(predictions))
	for _, p := range predictions {
		out = append(out, map[string]any{
			"id":       p.ID,
			"kind":     p.Kind,
			"content":  p.Content,
			"priority": p.Priority,
			"pattern":  p.PatternName,
		})
		_ = s.store.MarkPredictionShown(ctx, p.ID)
	}
	return map[string]any{"predictions": out}, nil
}

func (s *Server) handleEntity(ctx context.Context, a args) (any, error) {
	name := a.String("name")
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	metadata := map[string]string{}
	for k, v := range a.Map("metadata") {
		if sv, ok := v.(string); ok {
			metadata[k] = sv
		}
	}
	res, err := s.remember.RememberEntity(ctx, remember.EntityInput{
		Name:        name,
		Type:        a.String("type"),
		Description: a.String("description"),
		Aliases:     a.StringArray("aliases"),
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity_id": res.Entity.ID, "warnings": res.Warnings}, nil
}

func (s *Server) handleUpcoming(ctx context.Context, a args) (any, error) {
	days := a.Int("days", 14)
	memories, err := s.recall.RecallUpcomingDeadlines(ctx, days)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]map[string]any, 0, len(memories))
	for _, m := range memories {
		if m.DeadlineAt == nil {
			continue
		}
		out = append(out, map[string]any{
			"id":       m.ID,
			"content":  m.Content,
			"deadline": m.DeadlineAt.UTC().Format(time.RFC3339),
			"urgency":  string(deadlineUrgency(*m.DeadlineAt, now)),
		})
	}
	return map[string]any{"deadlines": out}, nil
}

// deadlineUrgency buckets a deadline relative to now.
func deadlineUrgency(deadline, now time.Time) types.Urgency {
	switch {
	case deadline.Before(now.Truncate(24 * time.Hour)):
		return types.UrgencyOverdue
	case deadline.Before(now.Truncate(24 * time.Hour).Add(24 * time.Hour)):
		return types.UrgencyToday
	case deadline.Before(now.Add(7 * 24 * time.Hour)):
		return types.UrgencyThisWeek
	default:
		return types.UrgencyUpcoming
	}
}

func (s *Server) handleTrace(ctx context.Context, a args) (any, error) {
	id := a.Int64("id", 0)
	if id == 0 {
		return nil, fmt.Errorf("id is required")
	}
	m, entities, err := s.recall.TraceMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return map[string]any{"found": false}, nil
	}
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	result := map[string]any{
		"found":               true,
		"id":                  m.ID,
		"content":             m.Content,
		"origin_type":         string(m.OriginType),
		"source_channel":      m.SourceChannel,
		"verification_status": string(m.VerificationStatus),
		"created_at":          m.CreatedAt.UTC().Format(time.RFC3339),
		"entities":            names,
		"access_count":        m.AccessCount,
	}
	if m.CorrectedFrom != nil {
		result["corrected_from"] = *m.CorrectedFrom
	}
	if m.InvalidatedAt != nil {
		result["invalidated_at"] = m.InvalidatedAt.UTC().Format(time.RFC3339)
		result["invalidated_reason"] = m.InvalidatedReason
	}
	return result, nil
}

func (s *Server) handleEndSession(ctx context.Context, a args) (any, error) {
	in := remember.EndSessionInput{
		SessionID: a.String("session_id"),
		Narrative: a.String("narrative"),
		KeyTopics: a.StringArray("key_topics"),
	}
	for _, f := range a.objectArray("facts") {
		fa := args(f)
		in.Facts = append(in.Facts, remember.FactInput{
			Content:       fa.String("content"),
			Type:          fa.String("type"),
			AboutEntities: fa.StringArray("about_entities"),
			Importance:    fa.Float("importance", 0),
			Confidence:    fa.Float("confidence", 0),
		})
	}
	for _, e := range a.objectArray("entities") {
		ea := args(e)
		in.Entities = append(in.Entities, remember.EntityInput{
			Name:        ea.String("name"),
			Type:        ea.String("type"),
			Description: ea.String("description"),
			Aliases:     ea.StringArray("aliases"),
		})
	}
	for _, r := range a.objectArray("relationships") {
		ra := args(r)
		in.Relationships = append(in.Relationships, remember.RelateInput{
			SourceName:       ra.String("source"),
			TargetName:       ra.String("target"),
			RelationshipType: ra.String("type"),
			Strength:         ra.Float("strength", 0),
			Supersedes:       ra.Bool("supersedes"),
		})
	}
	out, err := s.remember.EndSession(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"episode_id":    out.EpisodeID,
		"facts":         out.FactsStored,
		"entities":      out.EntitiesTouched,
		"relationships": out.Relationships,
	}, nil
}

func (s *Server) handleBufferTurn(ctx context.Context, a args) (any, error) {
	episodeID, turnNumber, err := s.remember.IngestTurn(ctx,
		a.String("session_id"), a.String("user_content"), a.String("assistant_content"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"episode_id": episodeID, "turn_number": turnNumber}, nil
}

func entityPayload(e *types.Entity) map[string]any {
	out := map[string]any{
		"id":          e.ID,
		"name":        e.Name,
		"type":        e.Type,
		"description": e.Description,
		"importance":  e.Importance,
	}
	if e.AttentionTier != "" {
		out["attention_tier"] = string(e.AttentionTier)
	}
	if e.ContactTrend != "" {
		out["contact_trend"] = string(e.ContactTrend)
	}
	return out
}

func memoriesPayload(memories []*types.Memory) []map[string]any {
	out := make([]map[string]any, 0, len(memories))
	for _, m := range memories {
		out = append(out, map[string]any{
			"id":         m.ID,
			"content":    m.Content,
			"type":       m.Type,
			"importance": m.Importance,
			"created_at": m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
