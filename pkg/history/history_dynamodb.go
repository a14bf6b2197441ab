package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tablecore "github.com/theory-cloud/tabletheory/pkg/core"
	tableerrors "github.com/theory-cloud/tabletheory/pkg/errors"
)

// minInt returns the smaller of two integers.
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DynamoDBStore implements Store using TableTheory-backed DynamoDB storage.
type DynamoDBStore struct {
	db     tablecore.DB
	config StoreConfig
}

var _ Store = (*DynamoDBStore)(nil)

// NewDynamoDBStore creates a new DynamoDB-backed journal store using TableTheory.
func NewDynamoDBStore(db tablecore.DB, config StoreConfig) *DynamoDBStore {
	if config.TTL == 0 {
		config.TTL = 365 * 24 * time.Hour
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}
	if config.RetryBaseDelay == 0 {
		config.RetryBaseDelay = 100 * time.Millisecond
	}
	if config.MetricsNamespace == "" {
		config.MetricsNamespace = "SiteTheory/History"
	}

	if config.TableName != "" {
		// Override Record.TableName() for the process lifetime.
		// TableTheory caches model metadata, so table names must be stable.
		if err := setHistoryTableNameOverride(config.TableName); err != nil {
			panic(fmt.Sprintf("failed to set history table name override: %v", err))
		}
	} else {
		config.TableName = (&Record{}).TableName()
	}

	return &DynamoDBStore{
		db:     db,
		config: config,
	}
}

func (d *DynamoDBStore) Append(ctx context.Context, record *Record) (string, error) {
	ctx = ensureContext(ctx)

	if err := validateRecordForAppend(record); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	prepareRecordForAppend(record, now, d.config.TTL)

	return d.createWithRetry(ctx, record)
}

func (d *DynamoDBStore) Journal(ctx context.Context, deployID string) ([]*Record, error) {
	ctx = ensureContext(ctx)

	deployID = strings.TrimSpace(deployID)
	if deployID == "" {
		return nil, fmt.Errorf("deploy ID cannot be empty")
	}

	var out []Record
	_, err := d.db.Model(&Record{}).
		WithContext(ctx).
		Index("deploy-id-index").
		Where("DeployID", "=", deployID).
		AllPaginated(&out)
	if err != nil {
		d.emitMetric("JournalError", 1, map[string]string{"error_type": "query_failed"})
		return nil, fmt.Errorf("failed to load deploy journal: %w", err)
	}

	// A deploy has at most a handful of transitions; order in memory.
	sort.Slice(out, func(i, j int) bool {
		return out[i].SortKey < out[j].SortKey
	})

	records := make([]*Record, 0, len(out))
	for i := range out {
		records = append(records, &out[i])
	}
	return records, nil
}

func (d *DynamoDBStore) List(ctx context.Context, query *Query) ([]*Record, error) {
	ctx = ensureContext(ctx)

	if err := validateQuery(query); err != nil {
		return nil, err
	}

	q := d.buildQuery(ctx, query)
	q = applyQueryCursor(q, query)

	records, err := d.executeQuery(q, query)
	if err != nil {
		return nil, err
	}

	d.emitMetric("ListSuccess", 1, map[string]string{"site": query.Site})

	return records, nil
}

func (d *DynamoDBStore) Latest(ctx context.Context, site string) (*Record, error) {
	records, err := d.List(ctx, &Query{Site: site, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (d *DynamoDBStore) Purge(ctx context.Context, site, deployID string) error {
	ctx = ensureContext(ctx)

	site = strings.TrimSpace(site)
	if site == "" {
		return fmt.Errorf("site cannot be empty")
	}

	records, err := d.Journal(ctx, deployID)
	if err != nil {
		return err
	}

	for _, record := range records {
		if record.Site != site {
			continue
		}
		err := d.db.Model(&Record{}).
			WithContext(ctx).
			Where("PartitionKey", "=", record.PartitionKey).
			Where("SortKey", "=", record.SortKey).
			Delete()
		if err != nil {
			d.emitMetric("PurgeError", 1, map[string]string{"error_type": "delete_failed"})
			return fmt.Errorf("failed to purge record %s: %w", record.RecordID, err)
		}
	}

	d.emitMetric("PurgeSuccess", 1, nil)
	return nil
}

func (d *DynamoDBStore) emitMetric(name string, value float64, tags map[string]string) {
	if !d.config.EnableMetrics || d.config.EmitMetric == nil {
		return
	}

	if tags == nil {
		tags = make(map[string]string, 1)
	}
	if d.config.TableName != "" {
		if _, ok := tags["table_name"]; !ok {
			tags["table_name"] = d.config.TableName
		}
	}

	d.config.EmitMetric(MetricRecord{
		Namespace: d.config.MetricsNamespace,
		Name:      name,
		Value:     value,
		Tags:      tags,
	})
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// TableTheory wraps AWS SDK errors; string matching is the most portable
	// approach across SDK versions without introducing new AWS touchpoints.
	msg := err.Error()
	retryable := []string{
		"ProvisionedThroughputExceededException",
		"ThrottlingException",
		"RequestLimitExceeded",
		"ServiceUnavailable",
		"InternalServerError",
		"RequestThrottled",
	}

	for _, needle := range retryable {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func validateRecordForAppend(record *Record) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if strings.TrimSpace(record.Site) == "" {
		return fmt.Errorf("site cannot be empty")
	}
	if strings.TrimSpace(record.DeployID) == "" {
		return fmt.Errorf("deploy ID cannot be empty")
	}
	if strings.TrimSpace(record.Phase) == "" {
		return fmt.Errorf("phase cannot be empty")
	}
	return nil
}

func prepareRecordForAppend(record *Record, now time.Time, ttl time.Duration) {
	if record == nil {
		return
	}

	if record.RecordedAt.IsZero() {
		record.RecordedAt = now
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	if strings.TrimSpace(record.PartitionKey) == "" {
		record.PartitionKey = partitionKeyForSite(record.Site)
	}
	if strings.TrimSpace(record.SortKey) == "" {
		record.SortKey = fmt.Sprintf("%d#%s", record.RecordedAt.UnixNano(), record.RecordID)
	}

	if ttl > 0 && record.ExpiresAt.IsZero() {
		record.ExpiresAt = now.Add(ttl)
	}
	if !record.ExpiresAt.IsZero() {
		record.TTL = record.ExpiresAt.Unix()
	}
}

func (d *DynamoDBStore) createWithRetry(ctx context.Context, record *Record) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= d.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoffMultiplier := 1 << minInt(attempt-1, 10) // cap at 2^10
			delay := d.config.RetryBaseDelay * time.Duration(backoffMultiplier)
			time.Sleep(delay)
		}

		err := d.db.Model(record).WithContext(ctx).IfNotExists().Create()
		if err == nil {
			d.emitMetric("AppendSuccess", 1, map[string]string{
				"site":      record.Site,
				"operation": record.Operation,
			})
			return record.RecordID, nil
		}

		if tableerrors.IsConditionFailed(err) {
			d.emitMetric("AppendDeduped", 1, map[string]string{
				"site": record.Site,
			})
			return record.RecordID, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	d.emitMetric("AppendError", 1, map[string]string{
		"error_type": "put_item_failed",
		"site":       record.Site,
	})
	return "", fmt.Errorf("failed to append record after %d attempts: %w", d.config.RetryAttempts+1, lastErr)
}

func validateQuery(query *Query) error {
	if query == nil {
		return fmt.Errorf("query cannot be nil")
	}
	if strings.TrimSpace(query.Site) == "" {
		return fmt.Errorf("site is required for queries")
	}
	return nil
}

func (d *DynamoDBStore) buildQuery(ctx context.Context, query *Query) tablecore.Query {
	q := d.db.Model(&Record{}).
		WithContext(ctx).
		Where("PartitionKey", "=", partitionKeyForSite(query.Site))

	applySortKeyTimeRange(q, query)
	q = q.OrderBy("SortKey", "DESC")

	if operation := strings.TrimSpace(query.Operation); operation != "" {
		q = q.Filter("Operation", "=", operation)
	}
	q = q.Limit(normalizeLimit(query.Limit))

	return q
}

func applySortKeyTimeRange(q tablecore.Query, query *Query) {
	switch {
	case query.StartTime != nil && query.EndTime != nil:
		startKey := fmt.Sprintf("%d#", query.StartTime.UnixNano())
		endKey := fmt.Sprintf("%d#", query.EndTime.UnixNano()+1) // exclusive upper bound
		q.Where("SortKey", "BETWEEN", []any{startKey, endKey})
	case query.StartTime != nil:
		startKey := fmt.Sprintf("%d#", query.StartTime.UnixNano())
		q.Where("SortKey", ">=", startKey)
	case query.EndTime != nil:
		endKey := fmt.Sprintf("%d#", query.EndTime.UnixNano())
		q.Where("SortKey", "<", endKey)
	}
}

func normalizeLimit(limit int) int {
	if limit > 0 && limit <= 1000 {
		return limit
	}
	return 100
}

func applyQueryCursor(q tablecore.Query, query *Query) tablecore.Query {
	if query == nil || query.LastEvaluatedKey == nil {
		return q
	}
	if cursor, ok := query.LastEvaluatedKey["cursor"].(string); ok && strings.TrimSpace(cursor) != "" {
		return q.Cursor(cursor)
	}
	return q
}

func (d *DynamoDBStore) executeQuery(q tablecore.Query, query *Query) ([]*Record, error) {
	var out []Record
	page, err := q.AllPaginated(&out)
	if err != nil {
		d.emitMetric("ListError", 1, map[string]string{"error_type": "query_failed"})
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	setNextKey(query, page)

	records := make([]*Record, 0, len(out))
	for i := range out {
		records = append(records, &out[i])
	}
	return records, nil
}

func setNextKey(query *Query, page *tablecore.PaginatedResult) {
	if query == nil {
		return
	}
	if page != nil && page.HasMore && strings.TrimSpace(page.NextCursor) != "" {
		query.NextKey = map[string]any{"cursor": page.NextCursor}
		return
	}
	query.NextKey = nil
}
