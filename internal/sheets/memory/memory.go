package memory

import (
	"context"
	"fmt"
	"sync"

	"bilancio/internal/core"
	ports "bilancio/internal/sheets"
)

// Store keeps appended rows in memory. It stands in for Google Sheets when no
// spreadsheet is configured.
type Store struct {
	mu   sync.Mutex
	rows [][]any
	refs map[string]string
}

var _ ports.OccurrenceWriter = (*Store)(nil)

func New() *Store {
	return &Store{refs: map[string]string{}}
}

// AppendOccurrence stores the row and returns a synthetic row reference.
func (s *Store) AppendOccurrence(_ context.Context, o core.Occurrence) (string, error) {
	if err := core.ValidateAmount(o.Amount); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ports.OccurrenceKey(o)
	if ref, ok := s.refs[key]; ok {
		return ref, nil
	}
	s.rows = append(s.rows, ports.OccurrenceRow(o))
	ref := fmt.Sprintf("mem:%d", len(s.rows))
	s.refs[key] = ref
	return ref, nil
}

// Rows returns a copy of the appended rows.
func (s *Store) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.rows...)
}
