package recall

import (
	"context"
	"sort"
	"time"

	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

// graphProximityCandidates returns memory ids "about" entities within one
// relationship hop of aboutEntityID, ordered by descending relationship
// strength: the graph-proximity signal fused in alongside vector/FTS
// candidates when an about-entity is known.
func graphProximityCandidates(ctx context.Context, store storage.Store, aboutEntityID int64, limit int) (rankList, error) {
	rels, err := store.CurrentRelationshipsForEntity(ctx, aboutEntityID, false)
	if err != nil {
		return nil, err
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Strength > rels[j].Strength })

	seen := map[int64]bool{}
	var list rankList
	for _, r := range rels {
		neighbor := r.TargetID
		if neighbor == aboutEntityID {
			neighbor = r.SourceID
		}
		memories, err := store.MemoriesForEntity(ctx, neighbor, limit)
		if err != nil {
			return nil, err
		}
		for _, m := range memories {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			list = append(list, m.ID)
			if len(list) >= limit {
				return list, nil
			}
		}
	}
	return list, nil
}

// RelationshipHealth summarizes the current standing of every entity
// related to a project (or other hub entity), for project_relationship_health.
type RelationshipHealth struct {
	Entity        *types.Entity
	Relationship  *types.Relationship
	ContactTrend  types.ContactTrend
	DaysSinceContact *float64
}

// ProjectRelationshipHealth reports on every entity currently tied to
// projectEntityID: relationship strength, contact trend, and recency, so
// the caller can flag neglected collaborators (dormant trend, or a long
// gap since last contact).
func ProjectRelationshipHealth(ctx context.Context, store storage.Store, projectEntityID int64) ([]RelationshipHealth, error) {
	rels, err := store.CurrentRelationshipsForEntity(ctx, projectEntityID, false)
	if err != nil {
		return nil, err
	}

	out := make([]RelationshipHealth, 0, len(rels))
	for _, r := range rels {
		neighborID := r.TargetID
		if neighborID == projectEntityID {
			neighborID = r.SourceID
		}
		entity, err := store.GetEntity(ctx, neighborID)
		if err != nil {
			return nil, err
		}
		if entity == nil || entity.DeletedAt != nil {
			continue
		}
		var days *float64
		if entity.LastContactAt != nil {
			d := time.Since(*entity.LastContactAt).Hours() / 24
			days = &d
		}
		out = append(out, RelationshipHealth{
			Entity:           entity,
			Relationship:     r,
			ContactTrend:     entity.ContactTrend,
			DaysSinceContact: days,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Relationship.Strength > out[j].Relationship.Strength })
	return out, nil
}
