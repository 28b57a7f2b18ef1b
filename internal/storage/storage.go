// Package storage defines the interface for Claudia's memory store backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/claudia-memory/claudia/internal/types"
)

// ErrDBNotInitialized is returned when a feature is used before Open/Initialize has run.
var ErrDBNotInitialized = errors.New("database not initialized")

// ErrDuplicateContent signals a content_hash collision; callers treat it as idempotent success.
var ErrDuplicateContent = errors.New("duplicate content")

// ErrDimensionMismatch signals the configured embedding dimension differs from the
// dimension recorded in _meta at initialization time.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Transaction exposes the subset of Store operations that must run atomically
// within a single write path (dedupe -> insert -> embed -> link).
//
// # SQLite specifics
//
//   - Uses BEGIN IMMEDIATE to acquire the write lock early and avoid deadlocks
//     between competing writers.
//   - If the callback returns an error (or panics) the transaction rolls back.
//   - On nil return the transaction commits.
type Transaction interface {
	CreateEntity(ctx context.Context, e *types.Entity) error
	UpdateEntity(ctx context.Context, id int64, updates map[string]any) error
	GetEntityByCanonical(ctx context.Context, canonicalName, entityType string) (*types.Entity, error)
	GetEntityByAlias(ctx context.Context, alias string) (*types.Entity, error)
	AddAlias(ctx context.Context, entityID int64, alias string) error

	CreateMemory(ctx context.Context, m *types.Memory) (int64, error)
	GetMemoryByHash(ctx context.Context, hash string) (*types.Memory, error)
	TouchMemoryAccess(ctx context.Context, id int64) error
	LinkMemoryEntity(ctx context.Context, memoryID, entityID int64, relationship string) error

	UpsertVector(ctx context.Context, table string, ownerID int64, vec []float32) error

	CreateRelationship(ctx context.Context, r *types.Relationship) (int64, error)
	GetCurrentRelationship(ctx context.Context, sourceID, targetID int64, relType string) (*types.Relationship, error)
	CurrentRelationshipsOfType(ctx context.Context, sourceID int64, relType string) ([]*types.Relationship, error)
	CloseRelationship(ctx context.Context, id int64, newType string, invalidAt time.Time) error
	UpdateRelationshipStrength(ctx context.Context, id int64, strength float64) error

	GetOrCreateOpenEpisode(ctx context.Context, sessionID string) (*types.Episode, error)
	AppendTurn(ctx context.Context, episodeID int64, userContent, assistantContent string) (int, error)
	FinalizeEpisode(ctx context.Context, episodeID int64, narrative string, keyTopics []string) error

	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)
}

// Store is the full interface over Claudia's embedded database.
type Store interface {
	Transaction

	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	GetEntity(ctx context.Context, id int64) (*types.Entity, error)
	SoftDeleteEntity(ctx context.Context, id int64, reason string) error
	SearchEntities(ctx context.Context, query string, entityTypes []string, limit int) ([]*types.Entity, error)
	EntityAliases(ctx context.Context, entityID int64) ([]string, error)
	RepointMemoryLinks(ctx context.Context, fromEntityID, toEntityID int64) (int, error)
	RepointRelationships(ctx context.Context, fromEntityID, toEntityID int64) (int, error)

	GetMemory(ctx context.Context, id int64) (*types.Memory, error)
	SetMemoryImportance(ctx context.Context, id int64, importance float64) error
	SetMemoryVerification(ctx context.Context, id int64, status types.VerificationStatus, reasons []string) error
	InvalidateMemory(ctx context.Context, id int64, reason string) error
	MergeMemory(ctx context.Context, dupID, primaryID int64) error
	PendingMemoriesOlderThan(ctx context.Context, age time.Duration, limit int) ([]*types.Memory, error)
	MemoriesForEntity(ctx context.Context, entityID int64, limit int) ([]*types.Memory, error)
	MemoriesWithEmbeddingCount(ctx context.Context, minCount int) (map[int64]int, error)
	EmbeddingsForOwners(ctx context.Context, table string, ownerIDs []int64) (map[int64][]float32, error)
	AllMemoriesAboveImportance(ctx context.Context, minImportance float64) ([]*types.Memory, error)

	CurrentRelationshipsForEntity(ctx context.Context, entityID int64, includeHistorical bool) ([]*types.Relationship, error)
	AllRelationships(ctx context.Context, minStrength float64) ([]*types.Relationship, error)

	VectorKNN(ctx context.Context, table string, query []float32, k int) ([]VectorHit, error)
	FTSSearch(ctx context.Context, query string, limit int) ([]FTSHit, error)
	KeywordSearch(ctx context.Context, query string, limit int) ([]int64, error)

	UpcomingDeadlines(ctx context.Context, days int) ([]*types.Memory, error)
	MemoriesSince(ctx context.Context, since time.Time, entityID *int64) ([]*types.Memory, error)
	RecentMemories(ctx context.Context, since time.Time, limit int) ([]*types.Memory, error)
	TraceMemory(ctx context.Context, id int64) (*types.Memory, []*types.Entity, error)

	UpsertPattern(ctx context.Context, p *types.Pattern) (int64, error)
	ActivePatterns(ctx context.Context, minConfidence float64) ([]*types.Pattern, error)
	CreatePrediction(ctx context.Context, p *types.Prediction) (int64, error)
	PendingPredictions(ctx context.Context, limit int) ([]*types.Prediction, error)
	MarkPredictionShown(ctx context.Context, id int64) error
	MarkPredictionActedOn(ctx context.Context, id int64) error
	PredictionFeedbackRatio(ctx context.Context, kind string) (float64, int, error)

	DecayImportances(ctx context.Context, rate, highCutoff, floor float64) (int, error)
	DecayReflections(ctx context.Context, floor float64) (int, error)
	BoostRecentlyAccessed(ctx context.Context, since time.Time, factor float64) (int, error)
	EntityMemoryCounts(ctx context.Context, minCount int) (map[int64]int, error)
	ListEntities(ctx context.Context) ([]*types.Entity, error)
	AvgUserTurnLength(ctx context.Context, since time.Time) (float64, int, error)
	CoMentionedPersonPairs(ctx context.Context, minShared int) ([]EntityPair, error)
	HasCurrentRelationship(ctx context.Context, aID, bID int64) (bool, error)
	AliasOverlapPairs(ctx context.Context) ([]EntityPair, error)
	OverdueCommitments(ctx context.Context, olderThanDays int) ([]*types.Memory, error)
	UpdateMemoryContent(ctx context.Context, id int64, content string, metadata map[string]any) error

	EntitySummary(ctx context.Context, entityID int64) (string, time.Time, bool, error)
	SetEntitySummary(ctx context.Context, entityID int64, summary string) error

	RecentEpisodes(ctx context.Context, limit int) ([]*types.Episode, error)
	Stats(ctx context.Context) (map[string]int, error)
	ResetVectorTables(ctx context.Context, model string, dims int) error

	UpsertReflection(ctx context.Context, r *types.Reflection) (int64, error)
	AllReflections(ctx context.Context) ([]*types.Reflection, error)
	AggregateReflections(ctx context.Context, primaryID, dupID int64) error

	CreateDocument(ctx context.Context, d *types.Document) (int64, error)
	GetDocumentByHash(ctx context.Context, hash string) (*types.Document, error)
	AgeDocuments(ctx context.Context, dormantDays, archiveDays int) (int, error)

	AppendAudit(ctx context.Context, kind, detail string) error
	RecordMetric(ctx context.Context, name string, value float64) error
	PruneRetention(ctx context.Context, auditDays, predictionDays, turnBufferDays, metricsDays int) (map[string]int, error)

	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	CheckEmbeddingDimension(ctx context.Context, model string, dims int) (bool, error)

	Backup(ctx context.Context, label string, keep int) (string, error)

	Path() string
	UnderlyingDB() *sql.DB
	Close() error
}

// VectorHit is a single nearest-neighbor result from VectorKNN.
type VectorHit struct {
	OwnerID  int64
	Distance float64
}

// EntityPair is a candidate pair surfaced by co-mention or alias-overlap
// scans, with the number of shared rows that produced it.
type EntityPair struct {
	AID    int64
	BID    int64
	Shared int
}

// FTSHit is a single full-text search result with its bm25 rank.
type FTSHit struct {
	MemoryID int64
	Rank     float64
}

// Config holds database configuration.
type Config struct {
	Path                string
	EmbeddingDimensions int
	EmbeddingModel      string
}
