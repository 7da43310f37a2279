package store

import (
	"context"
	"fmt"
	"time"
)

// QAPair is a stored reference question and answer.
type QAPair struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// AddQAPair stores a pair and returns it with its id.
func (s *Store) AddQAPair(ctx context.Context, question, answer string) (QAPair, error) {
	p := QAPair{Question: question, Answer: answer, CreatedAt: s.now().UTC()}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_pairs (question, answer, created_at) VALUES (?, ?, ?)
	`, p.Question, p.Answer, p.CreatedAt)
	if err != nil {
		return QAPair{}, fmt.Errorf("failed to add qa pair: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return QAPair{}, fmt.Errorf("failed to read qa pair id: %w", err)
	}
	return p, nil
}

// ListQAPairs returns every pair in insertion order.
func (s *Store) ListQAPairs(ctx context.Context) ([]QAPair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question, answer, created_at FROM qa_pairs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list qa pairs: %w", err)
	}
	defer rows.Close()

	var out []QAPair
	for rows.Next() {
		var p QAPair
		if err := rows.Scan(&p.ID, &p.Question, &p.Answer, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan qa pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteQAPair removes a pair; a missing id yields ErrNotFound.
func (s *Store) DeleteQAPair(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM qa_pairs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete qa pair %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
