// Package consolidate is the maintenance engine: adaptive decay, similarity
// merging, pattern detection, prediction generation, entity summaries,
// dedupe candidate surfacing, optional LM rewriting, and retention cleanup.
//
// Each phase runs in its own transaction scope so a failure in one phase
// never rolls back the others; the composite report carries per-phase counts
// and any phase errors for the scheduler to log.
package consolidate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/claudia-memory/claudia/internal/config"
	"github.com/claudia-memory/claudia/internal/debug"
	"github.com/claudia-memory/claudia/internal/embedding"
	"github.com/claudia-memory/claudia/internal/llm"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

// reflectionMergeThreshold is the cosine-similarity floor for aggregating
// reflections, looser than the memory merge threshold because reflections
// are paraphrases of behavior rather than distinct facts.
const reflectionMergeThreshold = 0.85

// accessBoostFactor is the rehearsal multiplier for memories read in the
// last 24 hours.
const accessBoostFactor = 1.05

// Options tunes the consolidation phases; defaults come from the config keys.
type Options struct {
	DecayRateDaily           float64
	MinImportance            float64
	EnableBackup             bool
	EnableMerging            bool
	SimilarityMergeThreshold float64
	EnableEntitySummaries    bool
	SummaryMinMemories       int
	SummaryMaxAgeDays        int
	EnableAutoDedupe         bool
	AutoDedupeThreshold      float64
	EnableLLM                bool
	LLMBatchSize             int
	AuditRetentionDays       int
	PredictionRetentionDays  int
	TurnBufferRetentionDays  int
	MetricsRetentionDays     int
	DocumentDormantDays      int
	DocumentArchiveDays      int
}

// OptionsFromConfig reads every consolidation key out of the global config.
func OptionsFromConfig() Options {
	return Options{
		DecayRateDaily:           config.GetFloat64("decay_rate_daily"),
		MinImportance:            config.GetFloat64("min_importance_threshold"),
		EnableBackup:             config.GetBool("enable_pre_consolidation_backup"),
		EnableMerging:            config.GetBool("enable_memory_merging"),
		SimilarityMergeThreshold: config.GetFloat64("similarity_merge_threshold"),
		EnableEntitySummaries:    config.GetBool("enable_entity_summaries"),
		SummaryMinMemories:       config.GetInt("entity_summary_min_memories"),
		SummaryMaxAgeDays:        config.GetInt("entity_summary_max_age_days"),
		EnableAutoDedupe:         config.GetBool("enable_auto_dedupe"),
		AutoDedupeThreshold:      config.GetFloat64("auto_dedupe_threshold"),
		EnableLLM:                config.GetBool("enable_llm_consolidation"),
		LLMBatchSize:             config.GetInt("llm_consolidation_batch_size"),
		AuditRetentionDays:       config.GetInt("audit_log_retention_days"),
		PredictionRetentionDays:  config.GetInt("prediction_retention_days"),
		TurnBufferRetentionDays:  config.GetInt("turn_buffer_retention_days"),
		MetricsRetentionDays:     config.GetInt("metrics_retention_days"),
		DocumentDormantDays:      config.GetInt("document_dormant_days"),
		DocumentArchiveDays:      config.GetInt("document_archive_days"),
	}
}

// Service drives the consolidation phases.
type Service struct {
	store storage.Store
	embed *embedding.Client
	lm    *llm.Client
	opts  Options
}

func New(store storage.Store, embed *embedding.Client, lm *llm.Client, opts Options) *Service {
	if opts.DecayRateDaily <= 0 || opts.DecayRateDaily > 1 {
		opts.DecayRateDaily = 0.995
	}
	if opts.SimilarityMergeThreshold <= 0 {
		opts.SimilarityMergeThreshold = 0.92
	}
	if opts.SummaryMinMemories <= 0 {
		opts.SummaryMinMemories = 5
	}
	if opts.AutoDedupeThreshold <= 0 {
		opts.AutoDedupeThreshold = 0.90
	}
	if opts.LLMBatchSize <= 0 {
		opts.LLMBatchSize = 20
	}
	return &Service{store: store, embed: embed, lm: lm, opts: opts}
}

// Report is the composite result of a full consolidation run.
type Report struct {
	BackupPath            string
	Decayed               int
	Boosted               int
	MemoriesMerged        int
	ReflectionsAggregated int
	PatternsDetected      int
	PredictionsCreated    int
	SummariesRefreshed    int
	DedupeCandidates      int
	MemoriesRewritten     int
	RetentionDeleted      map[string]int
	PhaseErrors           []string
}

func (r *Report) phaseError(phase string, err error) {
	msg := fmt.Sprintf("%s: %v", phase, err)
	r.PhaseErrors = append(r.PhaseErrors, msg)
	debug.Logf("consolidate: %s", msg)
}

// RunFull executes every phase in the documented order. Phase failures are
// recorded in the report and do not stop later phases.
func (s *Service) RunFull(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{}

	if s.opts.EnableBackup {
		path, err := s.store.Backup(ctx, "pre-consolidation", 3)
		if err != nil {
			report.phaseError("backup", err)
		} else {
			report.BackupPath = path
		}
	}

	if err := s.runDecay(ctx, report); err != nil {
		report.phaseError("decay", err)
	}
	if s.opts.EnableMerging {
		if err := s.runMemoryMerging(ctx, report); err != nil {
			report.phaseError("merge", err)
		}
		if err := s.runReflectionAggregation(ctx, report); err != nil {
			report.phaseError("reflections", err)
		}
	}
	if err := s.runPatternDetection(ctx, report); err != nil {
		report.phaseError("patterns", err)
	}
	if err := s.runPredictions(ctx, report); err != nil {
		report.phaseError("predictions", err)
	}
	if s.opts.EnableEntitySummaries {
		if err := s.runEntitySummaries(ctx, report); err != nil {
			report.phaseError("summaries", err)
		}
	}
	if s.opts.EnableAutoDedupe {
		if err := s.runAutoDedupe(ctx, report); err != nil {
			report.phaseError("dedupe", err)
		}
	}
	if s.opts.EnableLLM && s.lm.Available() {
		if err := s.runLLMConsolidation(ctx, report); err != nil {
			report.phaseError("llm", err)
		}
	}
	if err := s.runRetention(ctx, report); err != nil {
		report.phaseError("retention", err)
	}

	_ = s.store.AppendAudit(ctx, "consolidation",
		fmt.Sprintf("decayed=%d merged=%d patterns=%d predictions=%d errors=%d",
			report.Decayed, report.MemoriesMerged, report.PatternsDetected,
			report.PredictionsCreated, len(report.PhaseErrors)))
	_ = s.store.RecordMetric(ctx, "consolidation_duration_ms", float64(time.Since(started).Milliseconds()))
	_ = s.store.RecordMetric(ctx, "consolidation_memories_merged", float64(report.MemoriesMerged))
	_ = s.store.RecordMetric(ctx, "consolidation_patterns_detected", float64(report.PatternsDetected))
	return report, nil
}

// RunDecayOnly is the scheduler's 02:00 job: decay and rehearsal boost
// without the heavier phases.
func (s *Service) RunDecayOnly(ctx context.Context) (*Report, error) {
	report := &Report{}
	if err := s.runDecay(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

// RunPatternsOnly is the scheduler's interval pattern-detection job.
func (s *Service) RunPatternsOnly(ctx context.Context) (*Report, error) {
	report := &Report{}
	if err := s.runPatternDetection(ctx, report); err != nil {
		return report, err
	}
	if err := s.runPredictions(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) runDecay(ctx context.Context, report *Report) error {
	n, err := s.store.DecayImportances(ctx, s.opts.DecayRateDaily, 0.7, s.opts.MinImportance)
	if err != nil {
		return err
	}
	report.Decayed = n

	if _, err := s.store.DecayReflections(ctx, s.opts.MinImportance); err != nil {
		return err
	}

	boosted, err := s.store.BoostRecentlyAccessed(ctx, time.Now().Add(-24*time.Hour), accessBoostFactor)
	if err != nil {
		return err
	}
	report.Boosted = boosted
	return nil
}

// runMemoryMerging merges near-duplicate memories per entity: for every
// entity with enough linked memories, pairwise cosine similarity of stored
// embeddings decides duplicates, and the lower-scored memory (importance
// weighted by access) is folded into the higher-scored one.
func (s *Service) runMemoryMerging(ctx context.Context, report *Report) error {
	counts, err := s.store.EntityMemoryCounts(ctx, 5)
	if err != nil {
		return err
	}

	for entityID := range counts {
		memories, err := s.store.MemoriesForEntity(ctx, entityID, 200)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(memories))
		byID := map[int64]*types.Memory{}
		for _, m := range memories {
			if m.InvalidatedAt == nil {
				ids = append(ids, m.ID)
				byID[m.ID] = m
			}
		}
		vectors, err := s.store.EmbeddingsForOwners(ctx, "memory_embeddings", ids)
		if err != nil || len(vectors) < 2 {
			continue
		}

		merged := map[int64]bool{}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if merged[a] || merged[b] {
					continue
				}
				va, okA := vectors[a]
				vb, okB := vectors[b]
				if !okA || !okB {
					continue
				}
				if cosine(va, vb) < s.opts.SimilarityMergeThreshold {
					continue
				}
				primary, dup := a, b
				if mergeScore(byID[b]) > mergeScore(byID[a]) {
					primary, dup = b, a
				}
				if err := s.mergeMemoryPair(ctx, byID[primary], dup); err != nil {
					debug.Logf("consolidate: merge %d into %d: %v", dup, primary, err)
					continue
				}
				merged[dup] = true
				report.MemoriesMerged++
			}
		}
	}
	return nil
}

// mergeScore ranks merge survivors: importance weighted by how often the
// memory has actually been recalled.
func mergeScore(m *types.Memory) float64 {
	return m.Importance * (1 + float64(m.AccessCount))
}

func (s *Service) mergeMemoryPair(ctx context.Context, primary *types.Memory, dupID int64) error {
	if err := s.store.MergeMemory(ctx, dupID, primary.ID); err != nil {
		return err
	}
	if err := s.store.SetMemoryImportance(ctx, dupID, 0.001); err != nil {
		return err
	}
	var mergedFrom []any
	if prior, ok := primary.Metadata["merged_from"].([]any); ok {
		mergedFrom = prior
	}
	mergedFrom = append(mergedFrom, dupID)
	return s.store.UpdateMemoryContent(ctx, primary.ID, primary.Content, map[string]any{"merged_from": mergedFrom})
}

func (s *Service) runReflectionAggregation(ctx context.Context, report *Report) error {
	reflections, err := s.store.AllReflections(ctx)
	if err != nil || len(reflections) < 2 {
		return err
	}
	ids := make([]int64, len(reflections))
	byID := map[int64]*types.Reflection{}
	for i, r := range reflections {
		ids[i] = r.ID
		byID[r.ID] = r
	}
	vectors, err := s.store.EmbeddingsForOwners(ctx, "reflection_embeddings", ids)
	if err != nil || len(vectors) < 2 {
		return nil
	}

	gone := map[int64]bool{}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			if gone[a] || gone[b] {
				continue
			}
			va, okA := vectors[a]
			vb, okB := vectors[b]
			if !okA || !okB || cosine(va, vb) < reflectionMergeThreshold {
				continue
			}
			primary, dup := a, b
			if byID[b].Importance > byID[a].Importance {
				primary, dup = b, a
			}
			if err := s.store.AggregateReflections(ctx, primary, dup); err != nil {
				debug.Logf("consolidate: aggregate reflection %d into %d: %v", dup, primary, err)
				continue
			}
			gone[dup] = true
			report.ReflectionsAggregated++
		}
	}
	return nil
}

func (s *Service) runEntitySummaries(ctx context.Context, report *Report) error {
	counts, err := s.store.EntityMemoryCounts(ctx, s.opts.SummaryMinMemories)
	if err != nil {
		return err
	}
	maxAge := time.Duration(s.opts.SummaryMaxAgeDays) * 24 * time.Hour

	for entityID := range counts {
		_, updatedAt, ok, err := s.store.EntitySummary(ctx, entityID)
		if err != nil {
			return err
		}
		if ok && maxAge > 0 && time.Since(updatedAt) < maxAge {
			continue
		}
		summary, err := s.composeSummary(ctx, entityID)
		if err != nil || summary == "" {
			continue
		}
		if err := s.store.SetEntitySummary(ctx, entityID, summary); err != nil {
			return err
		}
		report.SummariesRefreshed++
	}
	return nil
}

// composeSummary builds a concise paragraph from an entity's top memories
// and current relationships, optionally polished by the LM.
func (s *Service) composeSummary(ctx context.Context, entityID int64) (string, error) {
	entity, err := s.store.GetEntity(ctx, entityID)
	if err != nil || entity == nil {
		return "", err
	}
	memories, err := s.store.MemoriesForEntity(ctx, entityID, 10)
	if err != nil {
		return "", err
	}
	rels, err := s.store.CurrentRelationshipsForEntity(ctx, entityID, false)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(entity.Name)
	if entity.Description != "" {
		sb.WriteString(": " + entity.Description)
	}
	sb.WriteString(". ")
	for i, m := range memories {
		if i >= 5 {
			break
		}
		sb.WriteString(strings.TrimRight(m.Content, ". ") + ". ")
	}
	if len(rels) > 0 {
		names := make([]string, 0, len(rels))
		for _, r := range rels {
			other := r.TargetID
			if other == entityID {
				other = r.SourceID
			}
			if e, err := s.store.GetEntity(ctx, other); err == nil && e != nil {
				names = append(names, fmt.Sprintf("%s (%s)", e.Name, r.Type))
			}
		}
		if len(names) > 0 {
			sb.WriteString("Connected to " + strings.Join(names, ", ") + ".")
		}
	}

	draft := sb.String()
	if s.lm.Available() {
		if polished, err := s.lm.PolishSummary(ctx, draft); err == nil {
			return polished, nil
		}
	}
	return draft, nil
}

// runAutoDedupe surfaces likely duplicate entity pairs for human approval —
// alias overlap first, then embedding similarity — as dedupe_candidate
// predictions. It never merges on its own.
func (s *Service) runAutoDedupe(ctx context.Context, report *Report) error {
	candidates := map[[2]int64]string{}

	pairs, err := s.store.AliasOverlapPairs(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		candidates[[2]int64{p.AID, p.BID}] = "shared alias"
	}

	entities, err := s.store.ListEntities(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	vectors, err := s.store.EmbeddingsForOwners(ctx, "entity_embeddings", ids)
	if err == nil && len(vectors) >= 2 {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if _, seen := candidates[[2]int64{a, b}]; seen {
					continue
				}
				va, okA := vectors[a]
				vb, okB := vectors[b]
				if okA && okB && cosine(va, vb) >= s.opts.AutoDedupeThreshold {
					candidates[[2]int64{a, b}] = "embedding similarity"
				}
			}
		}
	}

	for pair, why := range candidates {
		a, err := s.store.GetEntity(ctx, pair[0])
		if err != nil || a == nil {
			continue
		}
		b, err := s.store.GetEntity(ctx, pair[1])
		if err != nil || b == nil {
			continue
		}
		_, err = s.store.CreatePrediction(ctx, &types.Prediction{
			Kind:     "dedupe_candidate",
			Content:  fmt.Sprintf("%q (#%d) and %q (#%d) look like the same %s (%s); review and merge if so", a.Name, a.ID, b.Name, b.ID, a.Type, why),
			Priority: 0.4,
		})
		if err != nil {
			return err
		}
		report.DedupeCandidates++
	}
	return nil
}

// runLLMConsolidation rewrites a bounded batch of high-importance memories
// for concision and derives suggestion predictions from recent memories.
func (s *Service) runLLMConsolidation(ctx context.Context, report *Report) error {
	memories, err := s.store.AllMemoriesAboveImportance(ctx, 0.7)
	if err != nil {
		return err
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].Importance > memories[j].Importance })

	for i, m := range memories {
		if i >= s.opts.LLMBatchSize {
			break
		}
		if _, done := m.Metadata["llm_improved"]; done {
			continue
		}
		rewritten, err := s.lm.RewriteForConcision(ctx, m.Content)
		if err != nil || rewritten == m.Content {
			continue
		}
		err = s.store.UpdateMemoryContent(ctx, m.ID, rewritten, map[string]any{
			"llm_improved":     true,
			"original_content": m.Content,
		})
		if err != nil {
			return err
		}
		report.MemoriesRewritten++
	}

	recent, err := s.store.RecentMemories(ctx, time.Now().Add(-7*24*time.Hour), 20)
	if err != nil || len(recent) == 0 {
		return err
	}
	contents := make([]string, len(recent))
	for i, m := range recent {
		contents[i] = m.Content
	}
	suggestions, err := s.lm.SuggestFromMemories(ctx, contents, 3)
	if err != nil {
		return nil // optional feature; the rewrite half already succeeded
	}
	for _, text := range suggestions {
		if _, err := s.store.CreatePrediction(ctx, &types.Prediction{
			Kind:     "suggestion",
			Content:  text,
			Priority: 0.5,
		}); err != nil {
			return err
		}
		report.PredictionsCreated++
	}
	return nil
}

func (s *Service) runRetention(ctx context.Context, report *Report) error {
	deleted, err := s.store.PruneRetention(ctx,
		s.opts.AuditRetentionDays,
		s.opts.PredictionRetentionDays,
		s.opts.TurnBufferRetentionDays,
		s.opts.MetricsRetentionDays,
	)
	if err != nil {
		return err
	}
	report.RetentionDeleted = deleted

	if aged, err := s.store.AgeDocuments(ctx, s.opts.DocumentDormantDays, s.opts.DocumentArchiveDays); err != nil {
		return err
	} else if aged > 0 {
		report.RetentionDeleted["documents_aged"] = aged
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
