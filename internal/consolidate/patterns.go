package consolidate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/claudia-memory/claudia/internal/debug"
	"github.com/claudia-memory/claudia/internal/types"
)

// reflectionHash keys a reflection by the pattern that produced it, so
// re-detecting the same pattern aggregates rather than duplicates.
func reflectionHash(name string) string {
	sum := sha256.Sum256([]byte("pattern:" + name))
	return hex.EncodeToString(sum[:])
}

// Pattern detectors. Each returns candidate patterns to upsert by
// (name, pattern_type); failures in one detector are logged and skipped so
// the rest still run.

const (
	coolingRelationshipDays = 30
	overdueClusterAge       = 7
	overdueClusterMin       = 3
	coMentionMin            = 2
	clusterWindowDays       = 30
	bridgeInterconnectRatio = 0.20
)

func (s *Service) runPatternDetection(ctx context.Context, report *Report) error {
	detectors := []struct {
		name string
		fn   func(context.Context) ([]types.Pattern, error)
	}{
		{"cooling_relationships", s.detectCoolingRelationships},
		{"overdue_commitments", s.detectOverdueCommitmentCluster},
		{"communication_style", s.detectCommunicationStyle},
		{"co_mentions", s.detectCoMentions},
		{"attribute_connections", s.detectAttributeConnections},
		{"clusters", s.detectClusters},
		{"network_bridges", s.detectNetworkBridges},
	}

	for _, d := range detectors {
		patterns, err := d.fn(ctx)
		if err != nil {
			debug.Logf("consolidate: detector %s: %v", d.name, err)
			continue
		}
		for i := range patterns {
			patterns[i].IsActive = true
			if _, err := s.store.UpsertPattern(ctx, &patterns[i]); err != nil {
				debug.Logf("consolidate: upsert pattern %q: %v", patterns[i].Name, err)
				continue
			}
			report.PatternsDetected++

			// Behavioral and communication observations also live on as
			// reflections: slower-decaying self-observations that aggregate
			// across consolidation runs instead of expiring with the pattern.
			if patterns[i].PatternType == "communication" || patterns[i].PatternType == "behavioral" {
				s.upsertReflectionFromPattern(ctx, &patterns[i])
			}
		}
	}
	return nil
}

func (s *Service) upsertReflectionFromPattern(ctx context.Context, p *types.Pattern) {
	content := p.Name
	if len(p.Evidence) > 0 {
		content = p.Evidence[0]
	}
	r := &types.Reflection{
		Content:     content,
		ContentHash: reflectionHash(p.Name),
		Importance:  p.Confidence,
		DecayRate:   0.999,
	}
	if _, err := s.store.UpsertReflection(ctx, r); err != nil {
		debug.Logf("consolidate: reflection for pattern %q: %v", p.Name, err)
	}
}

// detectCoolingRelationships flags important people with no recorded contact
// or memory in the last 30 days.
func (s *Service) detectCoolingRelationships(ctx context.Context) ([]types.Pattern, error) {
	entities, err := s.store.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-coolingRelationshipDays * 24 * time.Hour)

	var out []types.Pattern
	for _, e := range entities {
		if e.Type != "person" || e.Importance <= 0.3 {
			continue
		}
		lastSeen := e.UpdatedAt
		if e.LastContactAt != nil && e.LastContactAt.After(lastSeen) {
			lastSeen = *e.LastContactAt
		}
		if memories, err := s.store.MemoriesForEntity(ctx, e.ID, 1); err == nil && len(memories) > 0 {
			if memories[0].CreatedAt.After(lastSeen) {
				lastSeen = memories[0].CreatedAt
			}
		}
		if lastSeen.After(cutoff) {
			continue
		}
		days := int(time.Since(lastSeen).Hours() / 24)
		out = append(out, types.Pattern{
			Name:        "cooling:" + e.CanonicalName,
			PatternType: "relationship",
			Confidence:  0.7,
			Evidence:    []string{fmt.Sprintf("no contact with %s in %d days", e.Name, days)},
		})
	}
	return out, nil
}

// detectOverdueCommitmentCluster fires when several commitments have been
// overdue for more than a week, a signal of systematic overcommitment rather
// than a single slipped deadline.
func (s *Service) detectOverdueCommitmentCluster(ctx context.Context) ([]types.Pattern, error) {
	overdue, err := s.store.OverdueCommitments(ctx, overdueClusterAge)
	if err != nil {
		return nil, err
	}
	if len(overdue) <= overdueClusterMin {
		return nil, nil
	}
	evidence := make([]string, 0, len(overdue))
	for _, m := range overdue {
		evidence = append(evidence, m.Content)
	}
	return []types.Pattern{{
		Name:        "overdue_commitment_cluster",
		PatternType: "behavioral",
		Confidence:  0.8,
		Evidence:    evidence,
	}}, nil
}

// detectCommunicationStyle classifies the user as brief or detailed from
// average buffered message length.
func (s *Service) detectCommunicationStyle(ctx context.Context) ([]types.Pattern, error) {
	avg, n, err := s.store.AvgUserTurnLength(ctx, time.Now().Add(-clusterWindowDays*24*time.Hour))
	if err != nil || n < 10 {
		return nil, err
	}
	style := "detailed"
	if avg < 120 {
		style = "brief"
	}
	return []types.Pattern{{
		Name:        "communication_style:" + style,
		PatternType: "communication",
		Confidence:  0.6,
		Evidence:    []string{fmt.Sprintf("average user message length %.0f chars over %d turns", avg, n)},
	}}, nil
}

// detectCoMentions finds person pairs repeatedly mentioned together with no
// explicit relationship recorded between them.
func (s *Service) detectCoMentions(ctx context.Context) ([]types.Pattern, error) {
	pairs, err := s.store.CoMentionedPersonPairs(ctx, coMentionMin)
	if err != nil {
		return nil, err
	}

	var out []types.Pattern
	for _, p := range pairs {
		related, err := s.store.HasCurrentRelationship(ctx, p.AID, p.BID)
		if err != nil || related {
			continue
		}
		a, err := s.store.GetEntity(ctx, p.AID)
		if err != nil || a == nil {
			continue
		}
		b, err := s.store.GetEntity(ctx, p.BID)
		if err != nil || b == nil {
			continue
		}
		out = append(out, types.Pattern{
			Name:        fmt.Sprintf("co_mention:%s+%s", a.CanonicalName, b.CanonicalName),
			PatternType: "relationship",
			Confidence:  0.6,
			Evidence:    []string{fmt.Sprintf("%s and %s appear together in %d memories with no recorded relationship", a.Name, b.Name, p.Shared)},
		})
	}
	return out, nil
}

// detectAttributeConnections infers ties from shared attributes: same
// company is a strong signal, shared city+industry weak, shared community
// medium. Unconnected pairs sharing attributes also become introduction
// opportunities.
func (s *Service) detectAttributeConnections(ctx context.Context) ([]types.Pattern, error) {
	entities, err := s.store.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	var persons []*types.Entity
	for _, e := range entities {
		if e.Type == "person" && len(e.Attributes) > 0 {
			persons = append(persons, e)
		}
	}

	var out []types.Pattern
	for i := 0; i < len(persons); i++ {
		for j := i + 1; j < len(persons); j++ {
			a, b := persons[i], persons[j]
			strength, why := attributeOverlap(a, b)
			if strength == "" {
				continue
			}
			out = append(out, types.Pattern{
				Name:        fmt.Sprintf("inferred:%s+%s", a.CanonicalName, b.CanonicalName),
				PatternType: "relationship",
				Confidence:  attributeConfidence(strength),
				Evidence:    []string{fmt.Sprintf("%s and %s share %s (%s signal)", a.Name, b.Name, why, strength)},
			})

			if related, err := s.store.HasCurrentRelationship(ctx, a.ID, b.ID); err == nil && !related {
				out = append(out, types.Pattern{
					Name:        fmt.Sprintf("introduce:%s+%s", a.CanonicalName, b.CanonicalName),
					PatternType: "opportunity",
					Confidence:  0.5,
					Evidence:    []string{fmt.Sprintf("%s and %s share %s but are not connected", a.Name, b.Name, why)},
				})
			}
		}
	}
	return out, nil
}

func attributeOverlap(a, b *types.Entity) (strength, why string) {
	if a.Attributes["company"] != "" && a.Attributes["company"] == b.Attributes["company"] {
		return "strong", "company " + a.Attributes["company"]
	}
	if a.Attributes["communities"] != "" && a.Attributes["communities"] == b.Attributes["communities"] {
		return "medium", "community " + a.Attributes["communities"]
	}
	if a.Attributes["geography"] != "" && a.Attributes["geography"] == b.Attributes["geography"] &&
		a.Attributes["industry"] != "" && a.Attributes["industry"] == b.Attributes["industry"] {
		return "weak", "city and industry"
	}
	return "", ""
}

func attributeConfidence(strength string) float64 {
	switch strength {
	case "strong":
		return 0.8
	case "medium":
		return 0.6
	default:
		return 0.4
	}
}

// detectClusters finds groups of three or more people joined by the
// co-mention pairs CoMentionedPersonPairs returns (each pair sharing at least
// coMentionMin memories), a forming social or project cluster. No time window
// is applied: co-mentions of any age count.
func (s *Service) detectClusters(ctx context.Context) ([]types.Pattern, error) {
	pairs, err := s.store.CoMentionedPersonPairs(ctx, coMentionMin)
	if err != nil {
		return nil, err
	}

	adjacency := map[int64]map[int64]bool{}
	link := func(a, b int64) {
		if adjacency[a] == nil {
			adjacency[a] = map[int64]bool{}
		}
		adjacency[a][b] = true
	}
	for _, p := range pairs {
		link(p.AID, p.BID)
		link(p.BID, p.AID)
	}

	var out []types.Pattern
	seen := map[int64]bool{}
	for hub, neighbors := range adjacency {
		if seen[hub] || len(neighbors) < 2 {
			continue
		}
		members := []int64{hub}
		for n := range neighbors {
			members = append(members, n)
			seen[n] = true
		}
		seen[hub] = true

		names := make([]string, 0, len(members))
		for _, id := range members {
			if e, err := s.store.GetEntity(ctx, id); err == nil && e != nil {
				names = append(names, e.Name)
			}
		}
		if len(names) < 3 {
			continue
		}
		hubEntity, err := s.store.GetEntity(ctx, hub)
		if err != nil || hubEntity == nil {
			continue
		}
		out = append(out, types.Pattern{
			Name:        "cluster:" + hubEntity.CanonicalName,
			PatternType: "relationship",
			Confidence:  0.6,
			Evidence:    []string{fmt.Sprintf("co-mentioned group: %v", names)},
		})
	}
	return out, nil
}

// detectNetworkBridges finds hub entities whose neighbors barely know each
// other: the hub is the only bridge between otherwise disconnected circles.
func (s *Service) detectNetworkBridges(ctx context.Context) ([]types.Pattern, error) {
	rels, err := s.store.AllRelationships(ctx, 0)
	if err != nil {
		return nil, err
	}

	adjacency := map[int64]map[int64]bool{}
	link := func(a, b int64) {
		if adjacency[a] == nil {
			adjacency[a] = map[int64]bool{}
		}
		adjacency[a][b] = true
	}
	for _, r := range rels {
		if !r.IsCurrent() {
			continue
		}
		link(r.SourceID, r.TargetID)
		link(r.TargetID, r.SourceID)
	}

	var out []types.Pattern
	for hub, neighbors := range adjacency {
		if len(neighbors) < 4 {
			continue
		}
		ids := make([]int64, 0, len(neighbors))
		for n := range neighbors {
			ids = append(ids, n)
		}
		interconnected := 0
		possible := len(ids) * (len(ids) - 1) / 2
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if adjacency[ids[i]][ids[j]] {
					interconnected++
				}
			}
		}
		if possible == 0 || float64(interconnected)/float64(possible) >= bridgeInterconnectRatio {
			continue
		}
		hubEntity, err := s.store.GetEntity(ctx, hub)
		if err != nil || hubEntity == nil {
			continue
		}
		out = append(out, types.Pattern{
			Name:        "bridge:" + hubEntity.CanonicalName,
			PatternType: "network",
			Confidence:  0.6,
			Evidence:    []string{fmt.Sprintf("%s connects %d people who are mostly unconnected to each other (%d/%d pairs linked)", hubEntity.Name, len(ids), interconnected, possible)},
		})
	}
	return out, nil
}

// runPredictions emits a prediction per high-confidence active pattern,
// with priority scaled by how often past predictions of the same kind were
// acted on.
func (s *Service) runPredictions(ctx context.Context, report *Report) error {
	patterns, err := s.store.ActivePatterns(ctx, 0.6)
	if err != nil {
		return err
	}

	for _, p := range patterns {
		kind, content := predictionForPattern(p)
		if kind == "" {
			continue
		}
		multiplier := s.feedbackMultiplier(ctx, kind)
		expires := time.Now().Add(14 * 24 * time.Hour)
		_, err := s.store.CreatePrediction(ctx, &types.Prediction{
			PatternName: p.Name,
			Kind:        kind,
			Content:     content,
			Priority:    clamp01(p.Confidence * multiplier),
			ExpiresAt:   &expires,
		})
		if err != nil {
			return err
		}
		report.PredictionsCreated++
	}
	return nil
}

func predictionForPattern(p *types.Pattern) (kind, content string) {
	evidence := ""
	if len(p.Evidence) > 0 {
		evidence = p.Evidence[0]
	}
	switch {
	case strings.HasPrefix(p.Name, "cooling:"):
		return "reconnect", "Consider reaching out: " + evidence
	case p.Name == "overdue_commitment_cluster":
		return "reminder", fmt.Sprintf("You have %d commitments overdue by more than a week", len(p.Evidence))
	case strings.HasPrefix(p.Name, "introduce:"):
		return "suggestion", "Possible introduction: " + evidence
	case strings.HasPrefix(p.Name, "co_mention:"), strings.HasPrefix(p.Name, "inferred:"):
		return "insight", evidence
	case strings.HasPrefix(p.Name, "bridge:"), strings.HasPrefix(p.Name, "cluster:"):
		return "insight", evidence
	case strings.HasPrefix(p.Name, "communication_style:"):
		return "insight", "Observed communication style: " + evidence
	}
	return "", ""
}

// feedbackMultiplier damps or boosts a prediction kind based on how often
// past predictions of that kind were acted on. Below five shown predictions
// there is not enough signal either way.
func (s *Service) feedbackMultiplier(ctx context.Context, kind string) float64 {
	ratio, shown, err := s.store.PredictionFeedbackRatio(ctx, kind)
	if err != nil || shown < 5 {
		return 1.0
	}
	switch {
	case ratio < 0.1:
		return 0.5
	case ratio > 0.5:
		return 1.25
	default:
		return 1.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
