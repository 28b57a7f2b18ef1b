package recall

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/claudia-memory/claudia/internal/embedding"
	"github.com/claudia-memory/claudia/internal/extractor"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

// Service is the read-path entry point.
type Service struct {
	store storage.Store
	embed *embedding.Client
	opts  Options
}

func New(store storage.Store, embed *embedding.Client, opts Options) *Service {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 20
	}
	return &Service{store: store, embed: embed, opts: opts}
}

// Recall is the hybrid-retrieval entry point: it fans out to every
// candidate generator the query and filter support, fuses them, applies
// the filter, and returns ranked results with a rehearsal-boost touch on
// every returned memory.
func (s *Service) Recall(ctx context.Context, query string, filter types.RecallFilter) ([]types.RecalledMemory, error) {
	started := time.Now()
	limit := filter.Limit
	if limit <= 0 {
		limit = s.opts.MaxResults
	}
	fanOut := limit * 4
	if fanOut < 40 {
		fanOut = 40
	}

	var (
		vectorList, ftsList, keywordList, graphList rankList
		aboutEntityID                               int64
		haveAboutEntity                              bool
	)

	type namedList struct {
		name string
		list rankList
	}
	results := make(chan namedList, 4)
	pending := 0

	if query != "" {
		pending++
		go func() {
			list, _ := s.ftsCandidates(ctx, query, fanOut)
			results <- namedList{"fts", list}
		}()
		pending++
		go func() {
			list, _ := s.keywordCandidates(ctx, query, fanOut)
			results <- namedList{"keyword", list}
		}()
		if s.embed != nil {
			pending++
			go func() {
				list, _ := s.vectorCandidates(ctx, query, fanOut)
				results <- namedList{"vector", list}
			}()
		}
	}

	if filter.AboutEntity != "" {
		if e, err := s.resolveEntity(ctx, filter.AboutEntity); err == nil && e != nil {
			aboutEntityID = e.ID
			haveAboutEntity = true
			pending++
			go func() {
				memories, _ := s.store.MemoriesForEntity(ctx, aboutEntityID, fanOut)
				ids := make(rankList, 0, len(memories))
				for _, m := range memories {
					ids = append(ids, m.ID)
				}
				results <- namedList{"about", ids}
			}()
			if s.opts.GraphProximityEnabled {
				pending++
				go func() {
					list, _ := graphProximityCandidates(ctx, s.store, aboutEntityID, fanOut)
					results <- namedList{"graph", list}
				}()
			}
		}
	}

	for i := 0; i < pending; i++ {
		r := <-results
		switch r.name {
		case "fts":
			ftsList = r.list
		case "keyword":
			keywordList = r.list
		case "vector":
			vectorList = r.list
		case "about":
			graphList = append(graphList, r.list...)
		case "graph":
			graphList = append(graphList, r.list...)
		}
	}
	_ = haveAboutEntity

	if query == "" && filter.AboutEntity == "" {
		// No query and no anchor entity: fall back to a recency scan, the
		// same "no signal, show what's fresh" behavior get_recent_memories uses.
		recent, err := s.store.RecentMemories(ctx, time.Unix(0, 0), fanOut)
		if err != nil {
			return nil, err
		}
		for _, m := range recent {
			ftsList = append(ftsList, m.ID)
		}
	}

	var fused map[int64]float64
	if s.opts.EnableRRF {
		fused = rrfFuse(s.opts.RRFK, vectorList, ftsList, keywordList, graphList)
	} else {
		fused = s.weightedFuse(ctx, vectorList, ftsList, graphList)
	}

	ordered := sortedByScore(fused)

	out := make([]types.RecalledMemory, 0, limit)
	for _, id := range ordered {
		if len(out) >= limit {
			break
		}
		m, err := s.store.GetMemory(ctx, id)
		if err != nil || m == nil {
			continue
		}
		if !passesFilter(m, filter) {
			continue
		}
		related, _ := s.relatedEntityNames(ctx, id)
		out = append(out, types.RecalledMemory{Memory: *m, Score: fused[id], RelatedNames: related})
		_ = s.store.TouchMemoryAccess(ctx, id)
	}

	_ = s.store.RecordMetric(ctx, "recall_latency_ms", float64(time.Since(started).Milliseconds()))
	_ = s.store.RecordMetric(ctx, "recall_results", float64(len(out)))
	return out, nil
}

func passesFilter(m *types.Memory, filter types.RecallFilter) bool {
	if m.InvalidatedAt != nil {
		return false
	}
	if len(filter.Types) > 0 && !containsString(filter.Types, m.Type) {
		return false
	}
	if !filter.IncludeLowImportance && filter.MinImportance > 0 && m.Importance < filter.MinImportance {
		return false
	}
	if filter.Since != nil && m.CreatedAt.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && m.CreatedAt.After(*filter.Until) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Service) ftsCandidates(ctx context.Context, query string, limit int) (rankList, error) {
	hits, err := s.store.FTSSearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Rank < hits[j].Rank }) // bm25: lower is better
	list := make(rankList, len(hits))
	for i, h := range hits {
		list[i] = h.MemoryID
	}
	return list, nil
}

func (s *Service) keywordCandidates(ctx context.Context, query string, limit int) (rankList, error) {
	ids, err := s.store.KeywordSearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return rankList(ids), nil
}

func (s *Service) vectorCandidates(ctx context.Context, query string, limit int) (rankList, error) {
	vec, err := s.embed.Generate(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.store.VectorKNN(ctx, "memory_embeddings", vec, limit)
	if err != nil {
		return nil, err
	}
	list := make(rankList, len(hits))
	for i, h := range hits {
		list[i] = h.OwnerID
	}
	return list, nil
}

// weightedFuse is the alternative to RRF when EnableRRF is off: each
// candidate's presence in a list contributes its source weight scaled by
// inverse rank, plus the memory's own importance and recency-decay score
// (defaults: vector 0.50, fts 0.15, importance 0.25, recency 0.10, graph
// 0.15).
func (s *Service) weightedFuse(ctx context.Context, vector, fts, graph rankList) map[int64]float64 {
	scores := map[int64]float64{}
	add := func(list rankList, weight float64) {
		for rank, id := range list {
			scores[id] += weight / float64(rank+1)
		}
	}
	add(vector, s.opts.VectorWeight)
	add(fts, s.opts.FTSWeight)
	add(graph, s.opts.GraphProximityWeight)

	for id := range scores {
		m, err := s.store.GetMemory(ctx, id)
		if err != nil || m == nil {
			continue
		}
		scores[id] += s.opts.ImportanceWeight * m.Importance
		scores[id] += s.opts.RecencyWeight * recencyDecay(m.CreatedAt, s.opts.RecencyHalfLifeDays)
	}
	return scores
}

// recencyDecay is an exponential half-life decay: 0.5 at halfLifeDays old,
// 1.0 at age zero.
func recencyDecay(createdAt time.Time, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}
	ageDays := time.Since(createdAt).Hours() / 24
	return math.Pow(0.5, ageDays/halfLifeDays)
}

func (s *Service) relatedEntityNames(ctx context.Context, memoryID int64) ([]string, error) {
	_, entities, err := s.store.TraceMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	return names, nil
}

func (s *Service) resolveEntity(ctx context.Context, name string) (*types.Entity, error) {
	if e, err := s.store.SearchEntities(ctx, name, nil, 1); err == nil && len(e) > 0 {
		return e[0], nil
	}
	canonical := extractor.CanonicalName(name)
	for _, t := range []string{"person", "organization", "project", "concept", "location"} {
		if e, err := s.store.GetEntityByCanonical(ctx, canonical, t); err == nil && e != nil {
			return e, nil
		}
	}
	return nil, nil
}

// RecallAbout returns every memory linked to the named entity, most recent
// first, a narrower and cheaper path than the full hybrid Recall when the
// caller already knows the anchor entity.
func (s *Service) RecallAbout(ctx context.Context, entityName string, limit int) ([]*types.Memory, error) {
	if limit <= 0 {
		limit = s.opts.MaxResults
	}
	entity, err := s.resolveEntity(ctx, entityName)
	if err != nil || entity == nil {
		return nil, err
	}
	return s.store.MemoriesForEntity(ctx, entity.ID, limit)
}

// EntityOverview bundles an entity's own record with its recent memories
// and current relationships, the single-call summary entity_overview
// exposes over the tool surface.
type EntityOverview struct {
	Entity        *types.Entity
	RecentMemories []*types.Memory
	Relationships []*types.Relationship
	Aliases       []string
}

func (s *Service) EntityOverview(ctx context.Context, entityName string) (*EntityOverview, error) {
	entity, err := s.resolveEntity(ctx, entityName)
	if err != nil || entity == nil {
		return nil, err
	}
	memories, err := s.store.MemoriesForEntity(ctx, entity.ID, s.opts.MaxResults)
	if err != nil {
		return nil, err
	}
	rels, err := s.store.CurrentRelationshipsForEntity(ctx, entity.ID, false)
	if err != nil {
		return nil, err
	}
	aliases, err := s.store.EntityAliases(ctx, entity.ID)
	if err != nil {
		return nil, err
	}
	return &EntityOverview{Entity: entity, RecentMemories: memories, Relationships: rels, Aliases: aliases}, nil
}

// EntityOverviews is the multi-entity form: one overview per resolved name
// plus cross-entity observations (shared memories between any two of the
// requested entities, and the relationship edges among them).
type EntityOverviews struct {
	Entities            []*EntityOverview
	CrossEntityPatterns []string
	RelationshipMap     map[string][]string
}

func (s *Service) EntityOverviewMulti(ctx context.Context, names []string) (*EntityOverviews, error) {
	out := &EntityOverviews{RelationshipMap: map[string][]string{}}
	resolved := map[int64]*types.Entity{}

	for _, name := range names {
		overview, err := s.EntityOverview(ctx, name)
		if err != nil {
			return nil, err
		}
		if overview == nil {
			continue
		}
		out.Entities = append(out.Entities, overview)
		resolved[overview.Entity.ID] = overview.Entity
	}

	// Cross-entity signals only exist between two or more resolved entities.
	if len(out.Entities) < 2 {
		return out, nil
	}

	for _, overview := range out.Entities {
		for _, r := range overview.Relationships {
			otherID := r.TargetID
			if otherID == overview.Entity.ID {
				otherID = r.SourceID
			}
			if other, ok := resolved[otherID]; ok {
				out.RelationshipMap[overview.Entity.Name] = append(out.RelationshipMap[overview.Entity.Name],
					r.Type+" "+other.Name)
			}
		}
	}

	seen := map[int64]string{}
	for _, overview := range out.Entities {
		for _, m := range overview.RecentMemories {
			if firstName, ok := seen[m.ID]; ok && firstName != overview.Entity.Name {
				out.CrossEntityPatterns = append(out.CrossEntityPatterns,
					firstName+" and "+overview.Entity.Name+" co-occur in: "+m.Content)
				continue
			}
			seen[m.ID] = overview.Entity.Name
		}
	}
	return out, nil
}

// RecallUpcomingDeadlines lists commitment-type memories with a deadline
// within the next `days`.
func (s *Service) RecallUpcomingDeadlines(ctx context.Context, days int) ([]*types.Memory, error) {
	return s.store.UpcomingDeadlines(ctx, days)
}

// RecallSince returns every memory created since a given time, optionally
// scoped to one entity.
func (s *Service) RecallSince(ctx context.Context, since time.Time, entityName string) ([]*types.Memory, error) {
	var entityID *int64
	if entityName != "" {
		entity, err := s.resolveEntity(ctx, entityName)
		if err != nil {
			return nil, err
		}
		if entity != nil {
			entityID = &entity.ID
		}
	}
	return s.store.MemoriesSince(ctx, since, entityID)
}

// RecallTimeline is RecallSince with an additional upper bound, applied
// client-side since the store's MemoriesSince contract is open-ended.
func (s *Service) RecallTimeline(ctx context.Context, entityName string, since, until time.Time) ([]*types.Memory, error) {
	memories, err := s.RecallSince(ctx, since, entityName)
	if err != nil {
		return nil, err
	}
	if until.IsZero() {
		return memories, nil
	}
	out := make([]*types.Memory, 0, len(memories))
	for _, m := range memories {
		if !m.CreatedAt.After(until) {
			out = append(out, m)
		}
	}
	return out, nil
}

// SearchEntities is a thin pass-through to the store's name/alias search.
func (s *Service) SearchEntities(ctx context.Context, query string, entityTypes []string, limit int) ([]*types.Entity, error) {
	if limit <= 0 {
		limit = s.opts.MaxResults
	}
	return s.store.SearchEntities(ctx, query, entityTypes, limit)
}

// GetRecentMemories returns the most recently created memories regardless
// of content, for a dashboard/"what's new" view.
func (s *Service) GetRecentMemories(ctx context.Context, limit int) ([]*types.Memory, error) {
	if limit <= 0 {
		limit = s.opts.MaxResults
	}
	return s.store.RecentMemories(ctx, time.Unix(0, 0), limit)
}

// TraceMemory returns a memory plus every entity it is linked to, for
// provenance/debugging.
func (s *Service) TraceMemory(ctx context.Context, id int64) (*types.Memory, []*types.Entity, error) {
	return s.store.TraceMemory(ctx, id)
}

// ProjectRelationshipHealth reports on every entity currently tied to the
// named project entity.
func (s *Service) ProjectRelationshipHealth(ctx context.Context, projectName string) ([]RelationshipHealth, error) {
	entity, err := s.resolveEntity(ctx, projectName)
	if err != nil || entity == nil {
		return nil, err
	}
	return ProjectRelationshipHealth(ctx, s.store, entity.ID)
}
