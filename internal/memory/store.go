package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"automatosx/internal/errs"
)

// Entry is one stored memory.
type Entry struct {
	ID           string     `json:"id"`
	Content      string     `json:"content"`
	Type         string     `json:"type"`
	Agent        string     `json:"agent,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
}

// SearchResult is an entry with its relevance score.
type SearchResult struct {
	Entry
	Score float64 `json:"score"`
}

// Stats summarizes the store.
type Stats struct {
	TotalEntries     int            `json:"total_entries"`
	ByType           map[string]int `json:"by_type"`
	ByAgent          map[string]int `json:"by_agent"`
	DBSizeBytes      int64          `json:"db_size_bytes"`
	IndexSize        int            `json:"index_size"`
	MemoryUsageBytes uint64         `json:"memory_usage_bytes"`
}

// StoreOptions tunes the store.
type StoreOptions struct {
	MaxEntries   int
	CleanupBatch int
	TrackAccess  bool
}

// Store is the memory store. Writes that would exceed MaxEntries evict the
// least-recently-used batch in the same transaction as the insert, so the
// cap holds even across crashes.
type Store struct {
	db     *DB
	opts   StoreOptions
	logger zerolog.Logger
}

// NewStore creates a store over an open database.
func NewStore(db *DB, opts StoreOptions, logger zerolog.Logger) *Store {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.CleanupBatch <= 0 {
		opts.CleanupBatch = opts.MaxEntries / 10
		if opts.CleanupBatch < 1 {
			opts.CleanupBatch = 1
		}
	}
	return &Store{db: db, opts: opts, logger: logger}
}

// hashContent returns the dedupe key for a content string.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Add stores a new entry and returns it with the generated ID. Eviction of
// old entries happens atomically with the insert.
func (s *Store) Add(content, entryType, agent string, tags []string) (*Entry, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errs.New(errs.CodeInvalidInput, "memory content must not be empty")
	}
	if entryType == "" {
		entryType = "other"
	}

	entry := &Entry{
		ID:        uuid.NewString(),
		Content:   content,
		Type:      entryType,
		Agent:     agent,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}

	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryDatabase, "encode tags", err)
	}

	err = s.db.WithTx(func(tx *Tx) error {
		if err := s.evictLocked(tx); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO memories (id, content, content_hash, type, agent, tags, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.Content, hashContent(entry.Content), entry.Type,
			nullable(entry.Agent), tagsJSON, entry.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryDatabase, "insert memory", err)
	}

	s.logger.Debug().Str("id", entry.ID).Str("type", entry.Type).Msg("memory added")
	return entry, nil
}

// evictLocked deletes the least-recently-used batch when the store is at
// capacity. Must run inside the caller's transaction.
func (s *Store) evictLocked(tx *Tx) error {
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return err
	}
	if count < s.opts.MaxEntries {
		return nil
	}

	res, err := tx.Exec(`
		DELETE FROM memories WHERE id IN (
			SELECT id FROM memories
			ORDER BY COALESCE(last_accessed, created_at) ASC
			LIMIT ?
		)`, s.opts.CleanupBatch)
	if err != nil {
		return err
	}

	evicted, _ := res.RowsAffected()
	s.logger.Info().Int64("evicted", evicted).Int("max", s.opts.MaxEntries).Msg("memory eviction")
	return nil
}

// Get returns an entry by ID, bumping its access stats when tracking is on.
func (s *Store) Get(id string) (*Entry, error) {
	entry, err := s.scanOne(`
		SELECT id, content, type, agent, tags, created_at, access_count, last_accessed
		FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	s.touch([]string{id})
	return entry, nil
}

// Delete removes an entry by ID.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.CodeMemoryDatabase, "delete memory", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Newf(errs.CodeMemoryQuery, "memory not found: %s", id)
	}
	return nil
}

// Cleanup deletes terminal-age entries older than the threshold and
// returns how many were removed.
func (s *Store) Cleanup(olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		olderThanDays = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	res, err := s.db.Exec(`DELETE FROM memories WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errs.Wrap(errs.CodeMemoryDatabase, "cleanup memories", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("removed", n).Int("older_than_days", olderThanDays).Msg("memory cleanup")
	}
	return int(n), nil
}

// Clear removes all entries.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM memories`); err != nil {
		return errs.Wrap(errs.CodeMemoryDatabase, "clear memories", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return 0, errs.Wrap(errs.CodeMemoryDatabase, "count memories", err)
	}
	return count, nil
}

// escapeFTSQuery strips FTS5 operators from a user query and joins the
// remaining tokens with OR for broad matching.
func escapeFTSQuery(query string) string {
	const specialChars = `"*()[]{}:@+-=<>!^.`

	var b strings.Builder
	for _, r := range query {
		if strings.ContainsRune(specialChars, r) {
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}

	tokens := strings.Fields(b.String())
	if len(tokens) == 0 {
		return ""
	}
	return strings.Join(tokens, " OR ")
}

// Search runs an FTS5 match over memory content, falling back to LIKE when
// the query has no tokenizable terms or FTS errors out. Results are best
// match first; filters narrow by type and agent.
func (s *Store) Search(query string, limit int, entryType, agent string) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	escaped := escapeFTSQuery(query)
	if escaped != "" {
		results, err := s.searchFTS(escaped, limit, entryType, agent)
		if err == nil && len(results) > 0 {
			s.touchResults(results)
			return results, nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("FTS search failed, falling back to LIKE")
		}
	}

	results, err := s.searchLike(query, limit, entryType, agent)
	if err != nil {
		return nil, err
	}
	s.touchResults(results)
	return results, nil
}

func (s *Store) searchFTS(escaped string, limit int, entryType, agent string) ([]SearchResult, error) {
	q := `
		SELECT m.id, m.content, m.type, m.agent, m.tags, m.created_at,
		       m.access_count, m.last_accessed, bm25(memories_fts) AS rank
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ?`
	args := []any{escaped}

	if entryType != "" {
		q += ` AND m.type = ?`
		args = append(args, entryType)
	}
	if agent != "" {
		q += ` AND m.agent = ?`
		args = append(args, agent)
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var rank float64
		if err := scanEntry(rows, &r.Entry, &rank); err != nil {
			return nil, err
		}
		// bm25 returns lower-is-better negative ranks; flip to a
		// positive score.
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) searchLike(query string, limit int, entryType, agent string) ([]SearchResult, error) {
	q := `
		SELECT id, content, type, agent, tags, created_at, access_count, last_accessed
		FROM memories WHERE content LIKE ?`
	args := []any{"%" + query + "%"}

	if entryType != "" {
		q += ` AND type = ?`
		args = append(args, entryType)
	}
	if agent != "" {
		q += ` AND agent = ?`
		args = append(args, agent)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryQuery, "search memories", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := scanEntry(rows, &r.Entry); err != nil {
			return nil, errs.Wrap(errs.CodeMemoryQuery, "scan memory", err)
		}
		r.Score = 0.5
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListOptions filters and orders List.
type ListOptions struct {
	Limit  int
	Offset int
	Type   string
	Agent  string
	// OrderBy is one of "created" (default), "accessed", "count".
	OrderBy string
	// Order is "desc" (default) or "asc".
	Order string
}

// List returns entries ordered per the options.
func (s *Store) List(opts ListOptions) ([]Entry, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	var column string
	switch opts.OrderBy {
	case "", "created":
		column = "created_at"
	case "accessed":
		column = "COALESCE(last_accessed, created_at)"
	case "count":
		column = "access_count"
	default:
		return nil, errs.Newf(errs.CodeInvalidInput, "unknown order_by: %s", opts.OrderBy)
	}

	var direction string
	switch opts.Order {
	case "", "desc":
		direction = "DESC"
	case "asc":
		direction = "ASC"
	default:
		return nil, errs.Newf(errs.CodeInvalidInput, "unknown order: %s", opts.Order)
	}

	q := `
		SELECT id, content, type, agent, tags, created_at, access_count, last_accessed
		FROM memories WHERE 1=1`
	var args []any
	if opts.Type != "" {
		q += ` AND type = ?`
		args = append(args, opts.Type)
	}
	if opts.Agent != "" {
		q += ` AND agent = ?`
		args = append(args, opts.Agent)
	}
	q += ` ORDER BY ` + column + ` ` + direction + ` LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryQuery, "list memories", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := scanEntry(rows, &e); err != nil {
			return nil, errs.Wrap(errs.CodeMemoryQuery, "scan memory", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats aggregates entry counts and the database file size.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{ByType: make(map[string]int), ByAgent: make(map[string]int)}

	total, err := s.Count()
	if err != nil {
		return nil, err
	}
	stats.TotalEntries = total

	rows, err := s.db.Query(`SELECT type, COUNT(*) FROM memories GROUP BY type`)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryQuery, "stats by type", err)
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByType[typ] = n
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT agent, COUNT(*) FROM memories WHERE agent IS NOT NULL GROUP BY agent`)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryQuery, "stats by agent", err)
	}
	for rows.Next() {
		var agent string
		var n int
		if err := rows.Scan(&agent, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByAgent[agent] = n
	}
	rows.Close()

	var pageCount, pageSize int64
	if err := s.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err == nil {
		if err := s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err == nil {
			stats.DBSizeBytes = pageCount * pageSize
		}
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories_fts`).Scan(&stats.IndexSize); err != nil {
		s.logger.Warn().Err(err).Msg("FTS index size unavailable")
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.MemoryUsageBytes = ms.HeapAlloc

	return stats, nil
}

// touch bumps access stats for the given IDs when tracking is enabled.
func (s *Store) touch(ids []string) {
	if !s.opts.TrackAccess || len(ids) == 0 {
		return
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.Exec(`
		UPDATE memories SET access_count = access_count + 1, last_accessed = ?
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		s.logger.Warn().Err(err).Msg("access tracking update failed")
	}
}

func (s *Store) touchResults(results []SearchResult) {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	s.touch(ids)
}

// scanner abstracts sql.Row and sql.Rows for scanEntry.
type scanner interface {
	Scan(dest ...any) error
}

// scanEntry scans the canonical column order into an Entry, with optional
// trailing destinations (e.g. the FTS rank).
func scanEntry(row scanner, e *Entry, extra ...any) error {
	var agent, tags sql.NullString
	var lastAccessed sql.NullTime

	dest := []any{&e.ID, &e.Content, &e.Type, &agent, &tags, &e.CreatedAt, &e.AccessCount, &lastAccessed}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}

	e.Agent = agent.String
	if lastAccessed.Valid {
		t := lastAccessed.Time
		e.LastAccessed = &t
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &e.Tags); err != nil {
			return fmt.Errorf("decode tags: %w", err)
		}
	}
	return nil
}

func (s *Store) scanOne(query string, args ...any) (*Entry, error) {
	var e Entry
	err := scanEntry(s.db.QueryRow(query, args...), &e)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.CodeMemoryQuery, "memory not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryQuery, "query memory", err)
	}
	return &e, nil
}

func marshalTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
