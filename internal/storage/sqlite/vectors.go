package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/claudia-memory/claudia/internal/storage"
)

// encodeVector packs a float32 slice into a little-endian BLOB. There is no
// vec0 virtual table in this driver stack, so the encoding only needs to
// round-trip through Go, not satisfy any SQLite-side vector extension's
// format.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func upsertVector(ctx context.Context, x execer, table string, ownerID int64, vec []float32) error {
	if !isVectorTable(table) {
		return fmt.Errorf("unknown vector table %q", table)
	}
	_, err := x.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (owner_id, embedding) VALUES (?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET embedding = excluded.embedding`, table),
		ownerID, encodeVector(vec),
	)
	if err != nil {
		return fmt.Errorf("upsert vector into %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertVector(ctx context.Context, table string, ownerID int64, vec []float32) error {
	return upsertVector(ctx, s.db, table, ownerID, vec)
}
func (t *txScope) UpsertVector(ctx context.Context, table string, ownerID int64, vec []float32) error {
	return upsertVector(ctx, t.conn, table, ownerID, vec)
}

func isVectorTable(table string) bool {
	for _, t := range vectorTables {
		if t == table {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// VectorKNN performs an in-process cosine-similarity scan across the owner
// table, since the pure-Go SQLite build carries no vec0 index to push this
// into the database. Distance is reported as 1 - cosine_similarity so
// smaller is always closer, matching the convention a real vector index
// would use.
func (s *SQLiteStorage) VectorKNN(ctx context.Context, table string, query []float32, k int) ([]storage.VectorHit, error) {
	if !isVectorTable(table) {
		return nil, fmt.Errorf("unknown vector table %q", table)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT owner_id, embedding FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("scan vector table %s: %w", table, err)
	}
	defer rows.Close()

	var hits []storage.VectorHit
	for rows.Next() {
		var ownerID int64
		var blob []byte
		if err := rows.Scan(&ownerID, &blob); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		sim := cosineSimilarity(query, decodeVector(blob))
		hits = append(hits, storage.VectorHit{OwnerID: ownerID, Distance: 1 - sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *SQLiteStorage) EmbeddingsForOwners(ctx context.Context, table string, ownerIDs []int64) (map[int64][]float32, error) {
	if !isVectorTable(table) {
		return nil, fmt.Errorf("unknown vector table %q", table)
	}
	if len(ownerIDs) == 0 {
		return map[int64][]float32{}, nil
	}
	placeholders := make([]string, len(ownerIDs))
	args := make([]any, len(ownerIDs))
	for i, id := range ownerIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT owner_id, embedding FROM %s WHERE owner_id IN (%s)`, table, joinComma(placeholders))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings for owners: %w", err)
	}
	defer rows.Close()
	out := map[int64][]float32{}
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		out[id] = decodeVector(blob)
	}
	return out, rows.Err()
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
