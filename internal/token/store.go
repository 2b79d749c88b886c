package token

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/store"
)

// Document-scope keys.
const (
	keyPrefix         = "token_"
	IndexKey          = "token_index"
	categoryKeyPrefix = "category_tokens_"
	LinkedRecordKey   = "linked_record"
)

// MetaKey returns the key of one token's metadata.
func MetaKey(id string) string { return keyPrefix + id }

// CategoryKey returns the key of one category's field-to-token mapping.
func CategoryKey(category string) string { return categoryKeyPrefix + category }

// LinkedRecord is the record a document was last populated from.
type LinkedRecord struct {
	RecordID    string    `json:"recordId"`
	Number      string    `json:"number"`
	PopulatedAt time.Time `json:"populatedAt"`
}

// Store persists token metadata in the document scope. The index key lists
// token ids so the set can be enumerated without a prefix scan.
type Store struct {
	mu     sync.Mutex
	st     store.Store
	logger *zap.Logger
}

// NewStore wraps s.
func NewStore(s store.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{st: s, logger: logger.Named("tokens")}
}

func (s *Store) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.st.Get(ctx, store.ScopeDocument, key)
	if err != nil {
		return false, errors.NewInternal(fmt.Errorf("reading %s: %w", key, err))
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.logger.Warn("unreadable token metadata", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := s.st.Set(ctx, store.ScopeDocument, key, string(data)); err != nil {
		return errors.NewInternal(fmt.Errorf("writing %s: %w", key, err))
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if err := s.st.Delete(ctx, store.ScopeDocument, key); err != nil {
		return errors.NewInternal(fmt.Errorf("deleting %s: %w", key, err))
	}
	return nil
}

func (s *Store) index(ctx context.Context) ([]string, error) {
	var ids []string
	if _, err := s.getJSON(ctx, IndexKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) categoryMap(ctx context.Context, category string) (map[string][]string, error) {
	m := map[string][]string{}
	if _, err := s.getJSON(ctx, CategoryKey(category), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string][]string{}
	}
	return m, nil
}

// Put saves t and adds it to the index and its category mapping.
func (s *Store) Put(ctx context.Context, t *Token) error {
	if t.ID == "" {
		return errors.NewInvalidRequest("token has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setJSON(ctx, MetaKey(t.ID), t); err != nil {
		return err
	}

	ids, err := s.index(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, t.ID) {
		if err := s.setJSON(ctx, IndexKey, append(ids, t.ID)); err != nil {
			return err
		}
	}

	m, err := s.categoryMap(ctx, t.CategoryName)
	if err != nil {
		return err
	}
	if !slices.Contains(m[t.FieldName], t.ID) {
		m[t.FieldName] = append(m[t.FieldName], t.ID)
		return s.setJSON(ctx, CategoryKey(t.CategoryName), m)
	}
	return nil
}

// Get returns the token with id, or false when there is none.
func (s *Store) Get(ctx context.Context, id string) (*Token, bool, error) {
	var t Token
	ok, err := s.getJSON(ctx, MetaKey(id), &t)
	if err != nil || !ok {
		return nil, false, err
	}
	return &t, true, nil
}

// List returns every indexed token in index order. Index entries without
// metadata are logged and skipped.
func (s *Store) List(ctx context.Context) ([]*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Token, 0, len(ids))
	for _, id := range ids {
		t, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Warn("token index entry has no metadata", zap.String("token_id", id))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ForCategory returns the category's field-to-token-id mapping.
func (s *Store) ForCategory(ctx context.Context, category string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categoryMap(ctx, category)
}

// Delete removes a token's metadata and index entries. It reports whether
// the token existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, found, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if err := s.delete(ctx, MetaKey(id)); err != nil {
		return false, err
	}

	ids, err := s.index(ctx)
	if err != nil {
		return false, err
	}
	if i := slices.Index(ids, id); i >= 0 {
		found = true
		if err := s.setJSON(ctx, IndexKey, slices.Delete(ids, i, i+1)); err != nil {
			return false, err
		}
	}

	if t != nil {
		m, err := s.categoryMap(ctx, t.CategoryName)
		if err != nil {
			return false, err
		}
		if i := slices.Index(m[t.FieldName], id); i >= 0 {
			m[t.FieldName] = slices.Delete(m[t.FieldName], i, i+1)
			if len(m[t.FieldName]) == 0 {
				delete(m, t.FieldName)
			}
			if len(m) == 0 {
				err = s.delete(ctx, CategoryKey(t.CategoryName))
			} else {
				err = s.setJSON(ctx, CategoryKey(t.CategoryName), m)
			}
			if err != nil {
				return false, err
			}
		}
	}
	return found, nil
}

// Clear removes every token, every category mapping and the index. It
// returns the number of indexed tokens.
func (s *Store) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.index(ctx)
	if err != nil {
		return 0, err
	}
	categories := map[string]bool{}
	for _, id := range ids {
		if t, ok, _ := s.Get(ctx, id); ok {
			categories[t.CategoryName] = true
		}
		if err := s.delete(ctx, MetaKey(id)); err != nil {
			return 0, err
		}
	}
	for c := range categories {
		if err := s.delete(ctx, CategoryKey(c)); err != nil {
			return 0, err
		}
	}
	if err := s.delete(ctx, IndexKey); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// LinkedRecord returns the linked record, if any.
func (s *Store) LinkedRecord(ctx context.Context) (*LinkedRecord, error) {
	var lr LinkedRecord
	ok, err := s.getJSON(ctx, LinkedRecordKey, &lr)
	if err != nil || !ok {
		return nil, err
	}
	return &lr, nil
}

// SetLinkedRecord records the record the document was populated from.
func (s *Store) SetLinkedRecord(ctx context.Context, lr LinkedRecord) error {
	return s.setJSON(ctx, LinkedRecordKey, lr)
}

// ClearLinkedRecord forgets the linked record.
func (s *Store) ClearLinkedRecord(ctx context.Context) error {
	return s.delete(ctx, LinkedRecordKey)
}
