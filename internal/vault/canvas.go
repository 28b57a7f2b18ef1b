package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/claudia-memory/claudia/internal/types"
)

// Obsidian .canvas JSON: nodes (file/text) plus labeled edges.

type canvasNode struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	File   string `json:"file,omitempty"`
	Text   string `json:"text,omitempty"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Color  string `json:"color,omitempty"`
}

type canvasEdge struct {
	ID       string `json:"id"`
	FromNode string `json:"fromNode"`
	ToNode   string `json:"toNode"`
	FromSide string `json:"fromSide"`
	ToSide   string `json:"toSide"`
	Label    string `json:"label,omitempty"`
}

type canvas struct {
	Nodes []canvasNode `json:"nodes"`
	Edges []canvasEdge `json:"edges"`
}

// Node sizing and Obsidian color indices by entity type.
var nodeSizes = map[string][2]int{
	"person":       {250, 80},
	"project":      {280, 90},
	"organization": {260, 80},
	"concept":      {220, 70},
	"location":     {220, 70},
}

var nodeColors = map[string]string{
	"person":       "4",
	"project":      "1",
	"organization": "5",
	"concept":      "6",
	"location":     "3",
}

const maxCanvasEntities = 50

func entityNodeID(id int64) string { return fmt.Sprintf("entity-%d", id) }

func edgeID(from, to, label string) string {
	sum := sha256.Sum256([]byte(from + ":" + to + ":" + label))
	return hex.EncodeToString(sum[:])[:12]
}

// syncRelationshipCanvas writes canvases/relationship-map.canvas: connected
// entities as file nodes (linking back to their vault notes) arranged in a
// circle, with one labeled edge per current relationship among them.
func (p *Projector) syncRelationshipCanvas(ctx context.Context, report *Report) error {
	entities, err := p.store.ListEntities(ctx)
	if err != nil {
		return err
	}

	// Only entities that participate in at least one current relationship
	// earn a node; an unconnected entity adds noise, not structure.
	connected := make([]*types.Entity, 0, len(entities))
	relsByEntity := map[int64][]*types.Relationship{}
	for _, e := range entities {
		rels, err := p.store.CurrentRelationshipsForEntity(ctx, e.ID, false)
		if err != nil {
			return err
		}
		if len(rels) == 0 {
			continue
		}
		connected = append(connected, e)
		relsByEntity[e.ID] = rels
	}
	sort.Slice(connected, func(i, j int) bool {
		if len(relsByEntity[connected[i].ID]) != len(relsByEntity[connected[j].ID]) {
			return len(relsByEntity[connected[i].ID]) > len(relsByEntity[connected[j].ID])
		}
		return connected[i].ID < connected[j].ID
	})
	if len(connected) > maxCanvasEntities {
		connected = connected[:maxCanvasEntities]
	}

	c := canvas{Nodes: []canvasNode{}, Edges: []canvasEdge{}}
	onCanvas := map[int64]bool{}
	radius := 400.0
	if len(connected) > 12 {
		radius = 40.0 * float64(len(connected))
	}
	for i, e := range connected {
		angle := 2 * math.Pi * float64(i) / float64(len(connected))
		size, ok := nodeSizes[e.Type]
		if !ok {
			size = [2]int{240, 80}
		}
		dir := entityDirs[e.Type]
		if dir == "" {
			dir = "concepts"
		}
		c.Nodes = append(c.Nodes, canvasNode{
			ID:     entityNodeID(e.ID),
			Type:   "file",
			File:   dir + "/" + noteFilename(e.Name),
			X:      int(radius * math.Cos(angle)),
			Y:      int(radius * math.Sin(angle)),
			Width:  size[0],
			Height: size[1],
			Color:  nodeColors[e.Type],
		})
		onCanvas[e.ID] = true
	}

	seenEdges := map[string]bool{}
	for _, e := range connected {
		for _, r := range relsByEntity[e.ID] {
			if !onCanvas[r.SourceID] || !onCanvas[r.TargetID] {
				continue
			}
			from, to := entityNodeID(r.SourceID), entityNodeID(r.TargetID)
			id := edgeID(from, to, r.Type)
			if seenEdges[id] {
				continue
			}
			seenEdges[id] = true
			c.Edges = append(c.Edges, canvasEdge{
				ID:       id,
				FromNode: from,
				ToNode:   to,
				FromSide: "right",
				ToSide:   "left",
				Label:    r.Type,
			})
		}
	}

	body, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal canvas: %w", err)
	}
	path := filepath.Join(p.baseDir, "canvases", "relationship-map.canvas")

	// Canvas files are regenerated wholesale; skip the write when nothing
	// changed so watchers don't fire on every sync.
	if existing, err := os.ReadFile(path); err == nil && string(existing) == string(body) {
		report.Unchanged++
		return nil
	}
	if err := atomicWrite(path, body); err != nil {
		return err
	}
	report.Written++
	return nil
}
