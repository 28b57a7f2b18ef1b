package extractor

import (
	"context"
	"time"
)

// Entity is a candidate person/organization/project surfaced from raw text,
// before entity resolution against the store.
type Entity struct {
	Name       string
	Type       string // person, organization, project
	Confidence float64
	Source     string // regex, nlp
}

// Fact is a candidate commitment or preference statement.
type Fact struct {
	Content       string
	Type          string // commitment, preference
	Confidence    float64
	HasDeadline   bool
	DeadlineAt    *time.Time // resolved by ResolveDeadline when HasDeadline is true
	AboutEntities []string   // entity names matched by substring inside Content
}

// Relationship is a candidate tie between two extracted entities.
type Relationship struct {
	FromEntity string
	ToEntity   string
	Type       string
}

// Extractor is the interface for entity extraction strategies. Confidence of
// each returned Entity reflects the strategy: NLP results should carry 0.8,
// pre-empting lower-confidence regex matches for the same name in the
// pipeline's merge pass.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Entity, []Relationship, error)
	Name() string
}
