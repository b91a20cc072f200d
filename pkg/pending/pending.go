package pending

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/factline/cli/pkg/api"
)

// Record remembers a submitted content item whose processing has not
// reached a terminal state yet.
type Record struct {
	Kind      api.ContentKind `json:"kind"`
	ContentID string          `json:"content_id"`
	Caption   string          `json:"caption,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key scopes a record by content kind and id.
func (r Record) Key() string {
	return Key(r.Kind, r.ContentID)
}

// Key returns the scoped key of a content item.
func Key(kind api.ContentKind, contentID string) string {
	return fmt.Sprintf("%s:%s", kind, contentID)
}

// Store persists pending records across restarts.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, kind api.ContentKind, contentID string) error
	List(ctx context.Context) ([]Record, error)
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Key() < records[j].Key()
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key()] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, kind api.ContentKind, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, Key(kind, contentID))
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()

	sortRecords(out)
	return out, nil
}
