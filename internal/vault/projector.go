// Package vault projects the memory graph into a read-only markdown tree:
// one note per entity, pattern, and summarized session, plus a Home
// dashboard. Every note carries YAML frontmatter with a content hash so
// operator edits can be detected (and preserved) instead of overwritten.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/claudia-memory/claudia/internal/debug"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

// entityDirs maps entity types onto their vault subdirectory.
var entityDirs = map[string]string{
	"person":       "people",
	"project":      "projects",
	"organization": "organizations",
	"concept":      "concepts",
	"location":     "locations",
}

// vaultDirs is every subdirectory the projector maintains.
var vaultDirs = []string{
	"people", "projects", "organizations", "concepts", "locations",
	"patterns", "reflections", "sessions", "canvases", "_meta",
}

// Frontmatter is the YAML header at the top of every projected note.
type Frontmatter struct {
	ClaudiaID int64  `yaml:"claudia_id"`
	Type      string `yaml:"type"`
	SyncHash  string `yaml:"sync_hash"`
	Updated   string `yaml:"updated"`
}

// Projector writes the vault tree under baseDir.
type Projector struct {
	store   storage.Store
	baseDir string
}

func New(store storage.Store, baseDir string) *Projector {
	return &Projector{store: store, baseDir: baseDir}
}

func (p *Projector) BaseDir() string { return p.baseDir }

// Report counts one sync pass.
type Report struct {
	Written   int
	Unchanged int
	Conflicts []string
}

// SyncAll projects every entity, pattern, reflection, and summarized episode
// into the vault, then rewrites Home.md. Notes whose on-disk body no longer
// matches their recorded sync_hash were edited by the operator and are left
// alone, reported as conflicts.
func (p *Projector) SyncAll(ctx context.Context) (*Report, error) {
	for _, d := range vaultDirs {
		if err := os.MkdirAll(filepath.Join(p.baseDir, d), 0o750); err != nil {
			return nil, fmt.Errorf("create vault directory %s: %w", d, err)
		}
	}

	report := &Report{}

	entities, err := p.store.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	for _, e := range entities {
		dir, ok := entityDirs[e.Type]
		if !ok {
			dir = "concepts"
		}
		body, err := p.entityBody(ctx, e)
		if err != nil {
			debug.Logf("vault: render entity %d: %v", e.ID, err)
			continue
		}
		path := filepath.Join(p.baseDir, dir, noteFilename(e.Name))
		p.writeNote(path, Frontmatter{ClaudiaID: e.ID, Type: e.Type}, body, report)
	}

	patterns, err := p.store.ActivePatterns(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	for _, pat := range patterns {
		path := filepath.Join(p.baseDir, "patterns", noteFilename(pat.Name))
		p.writeNote(path, Frontmatter{ClaudiaID: pat.ID, Type: "pattern"}, patternBody(pat), report)
	}

	reflections, err := p.store.AllReflections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reflections: %w", err)
	}
	for _, r := range reflections {
		path := filepath.Join(p.baseDir, "reflections", fmt.Sprintf("reflection-%d.md", r.ID))
		p.writeNote(path, Frontmatter{ClaudiaID: r.ID, Type: "reflection"}, reflectionBody(r), report)
	}

	episodes, err := p.store.RecentEpisodes(ctx, 100)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	for _, ep := range episodes {
		if !ep.IsSummarized || ep.Narrative == "" {
			continue
		}
		dir := filepath.Join(p.baseDir, "sessions", ep.StartedAt.Format("2006"), ep.StartedAt.Format("01"))
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-session-%d.md", ep.StartedAt.Format("2006-01-02"), ep.ID))
		p.writeNote(path, Frontmatter{ClaudiaID: ep.ID, Type: "session"}, episodeBody(ep), report)
	}

	if err := p.syncRelationshipCanvas(ctx, report); err != nil {
		return report, fmt.Errorf("write relationship canvas: %w", err)
	}

	if err := p.writeHome(ctx, report); err != nil {
		return report, fmt.Errorf("write Home.md: %w", err)
	}
	return report, nil
}

// writeNote writes one frontmattered note atomically, honoring operator
// edits: if the existing note's body no longer hashes to its recorded
// sync_hash, it was hand-edited and is preserved.
func (p *Projector) writeNote(path string, fm Frontmatter, body string, report *Report) {
	newHash := bodyHash(body)

	if existingFM, existingBody, err := readNote(path); err == nil {
		if existingFM.SyncHash != "" && bodyHash(existingBody) != existingFM.SyncHash {
			report.Conflicts = append(report.Conflicts, path)
			return
		}
		if existingFM.SyncHash == newHash {
			report.Unchanged++
			return
		}
	}

	fm.SyncHash = newHash
	fm.Updated = time.Now().UTC().Format(time.RFC3339)

	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		debug.Logf("vault: marshal frontmatter for %s: %v", path, err)
		return
	}
	content := "---\n" + string(fmBytes) + "---\n" + body

	if err := atomicWrite(path, []byte(content)); err != nil {
		debug.Logf("vault: write %s: %v", path, err)
		return
	}
	report.Written++
}

// readNote splits an existing note into frontmatter and body.
func readNote(path string) (Frontmatter, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Frontmatter{}, "", err
	}
	content := string(raw)
	if !strings.HasPrefix(content, "---\n") {
		return Frontmatter{}, content, nil
	}
	rest := content[4:]
	end := strings.Index(rest, "---\n")
	if end < 0 {
		return Frontmatter{}, content, nil
	}
	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return Frontmatter{}, content, nil
	}
	return fm, rest[end+4:], nil
}

// bodyHash is the first 12 hex chars of the body's SHA-256, the same
// truncation the daemon registry uses for its ids.
func bodyHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])[:12]
}

// atomicWrite writes via temp-file-then-rename so a reader (or the fsnotify
// watcher) never sees a half-written note.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".claudia-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// noteFilename sanitizes a display name into a markdown filename.
func noteFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	if cleaned == "" {
		cleaned = "untitled"
	}
	return cleaned + ".md"
}

func (p *Projector) entityBody(ctx context.Context, e *types.Entity) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", e.Name)
	if e.Description != "" {
		sb.WriteString(e.Description + "\n\n")
	}

	if summary, _, ok, _ := p.store.EntitySummary(ctx, e.ID); ok {
		sb.WriteString("## Summary\n\n" + summary + "\n\n")
	}

	if len(e.Attributes) > 0 {
		sb.WriteString("## Attributes\n\n")
		keys := make([]string, 0, len(e.Attributes))
		for k := range e.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- **%s**: %s\n", k, e.Attributes[k])
		}
		sb.WriteString("\n")
	}

	rels, err := p.store.CurrentRelationshipsForEntity(ctx, e.ID, false)
	if err != nil {
		return "", err
	}
	if len(rels) > 0 {
		sb.WriteString("## Relationships\n\n")
		for _, r := range rels {
			otherID := r.TargetID
			if otherID == e.ID {
				otherID = r.SourceID
			}
			other, err := p.store.GetEntity(ctx, otherID)
			if err != nil || other == nil {
				continue
			}
			fmt.Fprintf(&sb, "- %s [[%s]] (strength %.2f)\n", r.Type, other.Name, r.Strength)
		}
		sb.WriteString("\n")
	}

	memories, err := p.store.MemoriesForEntity(ctx, e.ID, 10)
	if err != nil {
		return "", err
	}
	if len(memories) > 0 {
		sb.WriteString("## Recent memories\n\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "- %s (%s, %s)\n", m.Content, m.Type, m.CreatedAt.Format("2006-01-02"))
		}
	}
	return sb.String(), nil
}

func patternBody(p *types.Pattern) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", p.Name)
	fmt.Fprintf(&sb, "Type: %s · Confidence: %.2f · Seen %d times since %s\n\n",
		p.PatternType, p.Confidence, p.Occurrences, p.FirstObserved.Format("2006-01-02"))
	if len(p.Evidence) > 0 {
		sb.WriteString("## Evidence\n\n")
		for _, e := range p.Evidence {
			sb.WriteString("- " + e + "\n")
		}
	}
	return sb.String()
}

func reflectionBody(r *types.Reflection) string {
	var sb strings.Builder
	sb.WriteString("# Reflection\n\n")
	sb.WriteString(r.Content + "\n\n")
	fmt.Fprintf(&sb, "First observed %s · last confirmed %s · aggregated %d observations\n",
		r.FirstObservedAt.Format("2006-01-02"), r.LastConfirmedAt.Format("2006-01-02"), r.AggregationCount)
	return sb.String()
}

func episodeBody(ep *types.Episode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Session %s\n\n", ep.StartedAt.Format("2006-01-02 15:04"))
	sb.WriteString(ep.Narrative + "\n\n")
	if len(ep.KeyTopics) > 0 {
		sb.WriteString("Topics: " + strings.Join(ep.KeyTopics, ", ") + "\n")
	}
	fmt.Fprintf(&sb, "Turns: %d · Messages: %d\n", ep.TurnCount, ep.MessageCount)
	return sb.String()
}

// writeHome renders the Home.md dashboard: counts, attention-tier entities,
// pending predictions, and upcoming deadlines.
func (p *Projector) writeHome(ctx context.Context, report *Report) error {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("# Home\n\n")
	fmt.Fprintf(&sb, "Entities: %d · Memories: %d · Relationships: %d · Patterns: %d\n\n",
		stats["entities"], stats["memories"], stats["relationships"], stats["patterns"])

	entities, err := p.store.ListEntities(ctx)
	if err != nil {
		return err
	}
	var active []string
	for _, e := range entities {
		if e.AttentionTier == types.TierActive || e.AttentionTier == types.TierWatchlist {
			active = append(active, fmt.Sprintf("- [[%s]] (%s)", e.Name, e.AttentionTier))
		}
	}
	if len(active) > 0 {
		sb.WriteString("## Attention\n\n" + strings.Join(active, "\n") + "\n\n")
	}

	deadlines, err := p.store.UpcomingDeadlines(ctx, 14)
	if err == nil && len(deadlines) > 0 {
		sb.WriteString("## Upcoming deadlines\n\n")
		for _, m := range deadlines {
			if m.DeadlineAt != nil {
				fmt.Fprintf(&sb, "- %s — %s\n", m.DeadlineAt.Format("2006-01-02"), m.Content)
			}
		}
		sb.WriteString("\n")
	}

	predictions, err := p.store.PendingPredictions(ctx, 5)
	if err == nil && len(predictions) > 0 {
		sb.WriteString("## Suggestions\n\n")
		for _, pr := range predictions {
			fmt.Fprintf(&sb, "- %s\n", pr.Content)
		}
	}

	body := sb.String()
	p.writeNote(filepath.Join(p.baseDir, "Home.md"), Frontmatter{Type: "home"}, body, report)
	return nil
}
