package history

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation for testing and local
// development. Journals are lost when the process exits.
type MemoryStore struct {
	records map[string]*Record // records by record ID
	mu      sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory journal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (m *MemoryStore) Append(_ context.Context, record *Record) (string, error) {
	if err := validateRecordForAppend(record); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	prepareRecordForAppend(record, now, 0)

	// Store a shallow copy to avoid callers mutating internal state.
	stored := *record

	m.mu.Lock()
	m.records[record.RecordID] = &stored
	m.mu.Unlock()

	return record.RecordID, nil
}

func (m *MemoryStore) Journal(_ context.Context, deployID string) ([]*Record, error) {
	deployID = strings.TrimSpace(deployID)
	if deployID == "" {
		return nil, fmt.Errorf("deploy ID cannot be empty")
	}

	candidates := m.snapshot()
	journal := make([]*Record, 0)
	for _, record := range candidates {
		if record.DeployID == deployID {
			journal = append(journal, record)
		}
	}
	sort.Slice(journal, func(i, j int) bool {
		return journal[i].SortKey < journal[j].SortKey
	})
	return journal, nil
}

func (m *MemoryStore) List(_ context.Context, query *Query) ([]*Record, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	candidates := m.snapshot()
	filtered := make([]*Record, 0)
	for _, record := range candidates {
		if recordMatchesQuery(record, query) {
			filtered = append(filtered, record)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].SortKey > filtered[j].SortKey
	})

	offset, err := offsetFromQuery(query.LastEvaluatedKey)
	if err != nil {
		return nil, err
	}

	limit := normalizeLimit(query.Limit)
	if offset > len(filtered) {
		offset = len(filtered)
	}
	end := minInt(offset+limit, len(filtered))
	page := filtered[offset:end]

	if end < len(filtered) {
		query.NextKey = map[string]any{"cursor": encodeOffsetCursor(end)}
	} else {
		query.NextKey = nil
	}

	out := make([]*Record, len(page))
	for i, record := range page {
		copied := *record
		out[i] = &copied
	}
	return out, nil
}

func (m *MemoryStore) Latest(ctx context.Context, site string) (*Record, error) {
	records, err := m.List(ctx, &Query{Site: site, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (m *MemoryStore) Purge(_ context.Context, site, deployID string) error {
	site = strings.TrimSpace(site)
	if site == "" {
		return fmt.Errorf("site cannot be empty")
	}
	deployID = strings.TrimSpace(deployID)
	if deployID == "" {
		return fmt.Errorf("deploy ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, record := range m.records {
		if record.DeployID == deployID && record.Site == site {
			delete(m.records, id)
		}
	}
	return nil
}

func recordMatchesQuery(record *Record, query *Query) bool {
	if record == nil || query == nil {
		return false
	}

	if record.Site != query.Site {
		return false
	}
	if query.Operation != "" && record.Operation != query.Operation {
		return false
	}
	if query.StartTime != nil && record.RecordedAt.Before(*query.StartTime) {
		return false
	}
	if query.EndTime != nil && record.RecordedAt.After(*query.EndTime) {
		return false
	}
	return true
}

func offsetFromQuery(lastEvaluatedKey map[string]any) (int, error) {
	if lastEvaluatedKey == nil {
		return 0, nil
	}
	cursor, ok := lastEvaluatedKey["cursor"].(string)
	if !ok || strings.TrimSpace(cursor) == "" {
		return 0, nil
	}
	return decodeOffsetCursor(cursor)
}

func encodeOffsetCursor(offset int) string {
	raw := strconv.Itoa(offset)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeOffsetCursor(cursor string) (int, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor")
	}
	value, err := strconv.Atoi(string(decoded))
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid cursor")
	}
	return value, nil
}

func (m *MemoryStore) snapshot() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record)
	}
	return out
}
