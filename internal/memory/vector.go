package memory

import (
	"encoding/binary"
	"math"
	"sort"

	"automatosx/internal/errs"
)

// Embeddings are optional: entries without one simply never match vector
// queries. Vectors are stored as little-endian float32 blobs and compared
// in-process with cosine similarity; there is no vector index.

// encodeEmbedding packs a vector into its storage form.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding unpacks a stored vector. Truncated blobs yield nil.
func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

// cosineSimilarity returns the similarity in [-1, 1], or 0 when the
// dimensions differ or either vector is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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

// SetEmbedding attaches (or replaces) an entry's embedding.
func (s *Store) SetEmbedding(id string, vec []float32) error {
	res, err := s.db.Exec(`UPDATE memories SET embedding = ? WHERE id = ?`, encodeEmbedding(vec), id)
	if err != nil {
		return errs.Wrap(errs.CodeMemoryDatabase, "set embedding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Newf(errs.CodeMemoryQuery, "memory not found: %s", id)
	}
	return nil
}

// SearchVector ranks entries with stored embeddings by cosine similarity
// against the query vector. Results below threshold are dropped.
func (s *Store) SearchVector(vec []float32, limit int, threshold float64, entryType, agent string) ([]SearchResult, error) {
	if len(vec) == 0 {
		return nil, errs.New(errs.CodeInvalidInput, "query vector must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	q := `
		SELECT id, content, type, agent, tags, created_at, access_count, last_accessed, embedding
		FROM memories WHERE embedding IS NOT NULL`
	var args []any
	if entryType != "" {
		q += ` AND type = ?`
		args = append(args, entryType)
	}
	if agent != "" {
		q += ` AND agent = ?`
		args = append(args, agent)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryQuery, "vector search", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var blob []byte
		if err := scanEntry(rows, &r.Entry, &blob); err != nil {
			return nil, errs.Wrap(errs.CodeMemoryQuery, "scan memory", err)
		}
		score := cosineSimilarity(vec, decodeEmbedding(blob))
		if score < threshold {
			continue
		}
		r.Score = score
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.CodeMemoryQuery, "vector search", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	s.touchResults(results)
	return results, nil
}
