package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/vantasec/redloop/pkg/models"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
}

// StoreOption configures a SQLiteStore.
type StoreOption func(*SQLiteStore)

// WithEmbedder enables semantic search. Records added through a store
// with an embedder carry a vector; Search ranks by cosine similarity
// and falls back to substring matching when embedding fails.
func WithEmbedder(e Embedder) StoreOption {
	return func(s *SQLiteStore) { s.embedder = e }
}

// NewSQLiteStore opens (and initializes) the database at path.
// ":memory:" keeps the store in-process.
func NewSQLiteStore(path string, opts ...StoreOption) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	// The modernc driver does not support concurrent writers on one
	// connection pool; serialize access through a single connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user TEXT NOT NULL,
			memory_text TEXT NOT NULL,
			category TEXT,
			severity TEXT,
			validation_status TEXT,
			target TEXT,
			extra TEXT,
			embedding TEXT,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create memories table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user)",
		"CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)",
		"CREATE INDEX IF NOT EXISTS idx_memories_target ON memories(target)",
		"CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Add stores a record, assigning an ID and timestamp when unset.
func (s *SQLiteStore) Add(ctx context.Context, record *models.MemoryRecord) error {
	if record == nil {
		return errors.New("nil record")
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	extra := "{}"
	if len(record.Metadata.Extra) > 0 {
		data, err := json.Marshal(record.Metadata.Extra)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		extra = string(data)
	}

	// Embedding failures degrade the record to substring search only.
	embedding := ""
	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, record.MemoryText); err == nil {
			if data, err := json.Marshal(vec); err == nil {
				embedding = string(data)
			}
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories
			(id, user, memory_text, category, severity, validation_status, target, extra, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.User,
		record.MemoryText,
		string(record.Metadata.Category),
		record.Metadata.Severity,
		string(record.Metadata.ValidationStatus),
		record.Metadata.Target,
		extra,
		embedding,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Search returns matching records. With an embedder configured and a
// non-empty query, results are ranked by cosine similarity against the
// stored vectors; otherwise (or when embedding the query fails) it runs
// a substring match over memory_text. Filters apply in both modes.
func (s *SQLiteStore) Search(ctx context.Context, query string, filters Filters) ([]*models.MemoryRecord, error) {
	if s.embedder != nil && strings.TrimSpace(query) != "" {
		if records, err := s.searchSemantic(ctx, query, filters); err == nil {
			return records, nil
		}
	}

	clauses, args := filterClauses(filters)
	if strings.TrimSpace(query) != "" {
		clauses = append(clauses, "memory_text LIKE ?")
		args = append(args, "%"+query+"%")
	}

	q := "SELECT id, user, memory_text, category, severity, validation_status, target, extra, created_at FROM memories"
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *SQLiteStore) searchSemantic(ctx context.Context, query string, filters Filters) ([]*models.MemoryRecord, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	clauses, args := filterClauses(filters)
	clauses = append(clauses, "embedding != ''")

	q := "SELECT id, user, memory_text, category, severity, validation_status, target, extra, embedding, created_at FROM memories WHERE " +
		strings.Join(clauses, " AND ")
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	type scored struct {
		record *models.MemoryRecord
		score  float64
	}
	var candidates []scored
	for rows.Next() {
		var (
			rec      models.MemoryRecord
			category string
			status   string
			extra    string
			embedded string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.User,
			&rec.MemoryText,
			&category,
			&rec.Metadata.Severity,
			&status,
			&rec.Metadata.Target,
			&extra,
			&embedded,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Metadata.Category = models.MemoryCategory(category)
		rec.Metadata.ValidationStatus = models.ValidationStatus(status)
		if extra != "" && extra != "{}" {
			if err := json.Unmarshal([]byte(extra), &rec.Metadata.Extra); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embedded), &vec); err != nil {
			continue
		}
		candidates = append(candidates, scored{record: &rec, score: cosineSimilarity(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.New("no embedded records")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if filters.Limit > 0 && len(candidates) > filters.Limit {
		candidates = candidates[:filters.Limit]
	}
	records := make([]*models.MemoryRecord, len(candidates))
	for i, c := range candidates {
		records[i] = c.record
	}
	return records, nil
}

func filterClauses(filters Filters) ([]string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filters.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(filters.Category))
	}
	if filters.ValidationStatus != "" {
		clauses = append(clauses, "validation_status = ?")
		args = append(args, string(filters.ValidationStatus))
	}
	if filters.Target != "" {
		clauses = append(clauses, "target = ?")
		args = append(args, filters.Target)
	}
	if filters.User != "" {
		clauses = append(clauses, "user = ?")
		args = append(args, filters.User)
	}
	return clauses, args
}

// List returns every record for user, newest first.
func (s *SQLiteStore) List(ctx context.Context, user string) ([]*models.MemoryRecord, error) {
	return s.Search(ctx, "", Filters{User: user})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]*models.MemoryRecord, error) {
	var records []*models.MemoryRecord
	for rows.Next() {
		var (
			rec      models.MemoryRecord
			category string
			status   string
			extra    string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.User,
			&rec.MemoryText,
			&category,
			&rec.Metadata.Severity,
			&status,
			&rec.Metadata.Target,
			&extra,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Metadata.Category = models.MemoryCategory(category)
		rec.Metadata.ValidationStatus = models.ValidationStatus(status)
		if extra != "" && extra != "{}" {
			if err := json.Unmarshal([]byte(extra), &rec.Metadata.Extra); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
