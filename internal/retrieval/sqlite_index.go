package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"tutorllm/internal/model"
)

var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex is a brute-force cosine index over the embedding_records
// table. The database is expected to come from platform/sqlite.New.
type SQLiteIndex struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

func (s *SQLiteIndex) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert failed: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedding_records (id, document_id, position, start, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert failed: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Chunk.DocumentID, r.Chunk.Position, r.Chunk.Start,
			r.Chunk.Text, encodeFloat32s(r.Vector), createdAt.UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert record %s failed: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert failed: %w", err)
	}
	return nil
}

// Search scans every row once, keeping the best k in a heap. Rows are fully
// drained before returning so the single connection is free again.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, document_id, position, start, content, embedding FROM embedding_records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings failed: %w", err)
	}
	defer rows.Close()

	h := &worstFirst{}
	var buf []float32
	for rows.Next() {
		var (
			seq   int64
			chunk model.Chunk
			blob  []byte
		)
		if err := rows.Scan(&seq, &chunk.DocumentID, &chunk.Position, &chunk.Start, &chunk.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding failed: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, err
		}
		score := cosine(vector, buf, queryNorm)
		c := candidate{seq: seq, score: score, rec: Scored{Chunk: chunk, Score: score}}
		if h.Len() < k {
			heap.Push(h, c)
		} else if score > (*h)[0].score {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings failed: %w", err)
	}

	out := make([]Scored, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(candidate).rec
	}
	return out, nil
}

func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings failed: %w", err)
	}
	return n, nil
}
