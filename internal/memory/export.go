package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"automatosx/internal/errs"
)

// exportFile is the on-disk export format.
type exportFile struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Entries    []Entry   `json:"entries"`
}

// ImportResult reports what an import did.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Export writes all entries to a JSON file via a temp file and rename, so
// a failed export never leaves a truncated file behind.
func (s *Store) Export(path string) (int, error) {
	entries, err := s.exportAll()
	if err != nil {
		return 0, err
	}

	out := exportFile{Version: 1, ExportedAt: time.Now().UTC(), Entries: entries}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return 0, errs.Wrap(errs.CodeMemoryExport, "encode export", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, errs.Wrap(errs.CodeMemoryExport, "create export directory", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return 0, errs.Wrap(errs.CodeMemoryExport, "write export", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, errs.Wrap(errs.CodeMemoryExport, "finalize export", err)
	}

	return len(entries), nil
}

func (s *Store) exportAll() ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, content, type, agent, tags, created_at, access_count, last_accessed
		FROM memories ORDER BY created_at ASC`)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryExport, "read memories", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := scanEntry(rows, &e); err != nil {
			return nil, errs.Wrap(errs.CodeMemoryExport, "scan memory", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ImportOptions controls Import behavior.
type ImportOptions struct {
	// SkipDuplicates drops entries whose content hash already exists.
	SkipDuplicates bool
	// BatchSize bounds how many entries commit per transaction. Zero
	// means 100.
	BatchSize int
	// Validate checks the file and reports what would happen without
	// writing anything.
	Validate bool
}

// Import loads entries from a JSON export in batched transactions.
func (s *Store) Import(path string, opts ImportOptions) (*ImportResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMemoryImport, "read import file", err)
	}

	var in exportFile
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errs.Wrap(errs.CodeMemoryImport, "decode import file", err)
	}

	for i, e := range in.Entries {
		if strings.TrimSpace(e.Content) == "" {
			return nil, errs.Newf(errs.CodeMemoryImport, "entry %d has empty content", i)
		}
	}

	result := &ImportResult{}

	if opts.Validate {
		for _, e := range in.Entries {
			if opts.SkipDuplicates {
				exists, err := s.hashExists(hashContent(e.Content))
				if err != nil {
					return nil, errs.Wrap(errs.CodeMemoryImport, "check duplicate", err)
				}
				if exists {
					result.Skipped++
					continue
				}
			}
			result.Imported++
		}
		return result, nil
	}

	entries := in.Entries
	for start := 0; start < len(entries); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(entries))
		err := s.db.WithTx(func(tx *Tx) error {
			for _, e := range entries[start:end] {
				if err := s.importOne(tx, e, opts, result); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, errs.Wrap(errs.CodeMemoryImport, "import memories", err)
		}
	}

	s.logger.Info().Int("imported", result.Imported).Int("skipped", result.Skipped).Msg("memory import complete")
	return result, nil
}

func (s *Store) importOne(tx *Tx, e Entry, opts ImportOptions, result *ImportResult) error {
	hash := hashContent(e.Content)

	if opts.SkipDuplicates {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM memories WHERE content_hash = ?`, hash).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			result.Skipped++
			return nil
		}
	}

	id := e.ID
	if id == "" {
		id = uuid.NewString()
	} else {
		var taken int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM memories WHERE id = ?`, id).Scan(&taken); err != nil {
			return err
		}
		if taken > 0 {
			id = uuid.NewString()
		}
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	entryType := e.Type
	if entryType == "" {
		entryType = "other"
	}

	tagsJSON, err := marshalTags(e.Tags)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO memories (id, content, content_hash, type, agent, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, e.Content, hash, entryType, nullable(e.Agent), tagsJSON, createdAt,
	); err != nil {
		return err
	}
	result.Imported++
	return nil
}

func (s *Store) hashExists(hash string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE content_hash = ?`, hash).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
