// Package verifier is the deferred background pass that promotes pending
// memories to verified or flags them. It runs a cascade of cheap
// deterministic checks first and only then the optional language-model
// checks, so a missing LM never blocks verification.
package verifier

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/claudia-memory/claudia/internal/debug"
	"github.com/claudia-memory/claudia/internal/guards"
	"github.com/claudia-memory/claudia/internal/llm"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

// verificationBuffer keeps freshly written memories out of the batch so a
// memory is never verified mid-session, while its session context may still
// correct it.
const verificationBuffer = 5 * time.Minute

// flaggedImportance is the importance a flagged or contradicting memory is
// reduced to, keeping it out of default recall without deleting it.
const flaggedImportance = 0.1

// maxContradictionFacts bounds how many existing verified facts the LM
// contradiction check compares against.
const maxContradictionFacts = 10

const nearDuplicateRatio = 0.85

var deadlinePattern = regexp.MustCompile(`(?i)\b(by|before|until|due|tomorrow|today|next\s+\w+|end\s+of\s+\w+|in\s+\d+\s+(day|week|month)s?|on\s+\w+\s+\d{1,2})\b`)

// Service runs verification batches against the store, optionally consulting
// a language model for contradiction and completeness checks.
type Service struct {
	store     storage.Store
	lm        *llm.Client
	batchSize int
}

func New(store storage.Store, lm *llm.Client, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Service{store: store, lm: lm, batchSize: batchSize}
}

// Report counts what one verification tick did.
type Report struct {
	Examined    int
	Verified    int
	Flagged     int
	Contradicts int
	Errors      int
}

// RunOnce processes one batch of pending memories older than the
// verification buffer. Failures of individual memories are logged and
// counted, never aborting the batch.
func (s *Service) RunOnce(ctx context.Context) (*Report, error) {
	pending, err := s.store.PendingMemoriesOlderThan(ctx, verificationBuffer, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("select pending memories: %w", err)
	}

	report := &Report{}
	for _, m := range pending {
		report.Examined++
		if err := s.verifyOne(ctx, m, report); err != nil {
			report.Errors++
			debug.Logf("verifier: memory %d: %v", m.ID, err)
		}
	}
	return report, nil
}

func (s *Service) verifyOne(ctx context.Context, m *types.Memory, report *Report) error {
	var reasons []string
	status := types.VerificationVerified

	// Cheap deterministic checks first.
	if m.Type == "commitment" && m.DeadlineAt == nil && !deadlinePattern.MatchString(m.Content) {
		reasons = append(reasons, "commitment has no recognizable deadline")
		status = types.VerificationFlagged
	}

	linked, err := s.nearDuplicateLinkedEntity(ctx, m.ID)
	if err != nil {
		return err
	}
	if linked != "" {
		reasons = append(reasons, "linked entity is a near-duplicate of "+linked)
		status = types.VerificationFlagged
	}

	// Optional LM checks only after the cheap ones pass or flag.
	if s.lm.Available() && status != types.VerificationFlagged {
		contradicts, detail, err := s.contradictionCheck(ctx, m)
		if err == nil && contradicts {
			reasons = append(reasons, "contradicts existing fact: "+detail)
			status = types.VerificationContradicts
		}
	}
	if s.lm.Available() && m.Type == "commitment" {
		if warnings, err := s.lm.CheckCommitmentCompleteness(ctx, m.Content); err == nil {
			reasons = append(reasons, warnings...)
		}
	}

	if err := s.store.SetMemoryVerification(ctx, m.ID, status, reasons); err != nil {
		return err
	}
	switch status {
	case types.VerificationVerified:
		report.Verified++
	case types.VerificationFlagged:
		report.Flagged++
		if err := s.store.SetMemoryImportance(ctx, m.ID, flaggedImportance); err != nil {
			return err
		}
	case types.VerificationContradicts:
		report.Contradicts++
		if err := s.store.SetMemoryImportance(ctx, m.ID, flaggedImportance); err != nil {
			return err
		}
	}
	return nil
}

// nearDuplicateLinkedEntity reports a pair description when any entity
// linked to the memory has a canonical name suspiciously close to another
// live entity's.
func (s *Service) nearDuplicateLinkedEntity(ctx context.Context, memoryID int64) (string, error) {
	_, linked, err := s.store.TraceMemory(ctx, memoryID)
	if err != nil {
		return "", err
	}
	if len(linked) == 0 {
		return "", nil
	}
	all, err := s.store.ListEntities(ctx)
	if err != nil {
		return "", err
	}
	for _, le := range linked {
		for _, other := range all {
			if other.ID == le.ID || other.CanonicalName == le.CanonicalName {
				continue
			}
			if guards.SimilarityRatio(le.CanonicalName, other.CanonicalName) > nearDuplicateRatio {
				return fmt.Sprintf("%q / %q", le.Name, other.Name), nil
			}
		}
	}
	return "", nil
}

// contradictionCheck compares the memory against up to maxContradictionFacts
// verified facts about the same entities.
func (s *Service) contradictionCheck(ctx context.Context, m *types.Memory) (bool, string, error) {
	_, linked, err := s.store.TraceMemory(ctx, m.ID)
	if err != nil || len(linked) == 0 {
		return false, "", err
	}

	var existing []string
	seen := map[int64]bool{m.ID: true}
	for _, e := range linked {
		memories, err := s.store.MemoriesForEntity(ctx, e.ID, maxContradictionFacts)
		if err != nil {
			continue
		}
		for _, other := range memories {
			if seen[other.ID] || other.VerificationStatus != types.VerificationVerified {
				continue
			}
			seen[other.ID] = true
			existing = append(existing, other.Content)
			if len(existing) >= maxContradictionFacts {
				break
			}
		}
		if len(existing) >= maxContradictionFacts {
			break
		}
	}
	return s.lm.CheckContradiction(ctx, m.Content, existing)
}
