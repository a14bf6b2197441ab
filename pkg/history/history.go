// Package history keeps a durable journal of site deploys. Every phase
// transition is appended as one immutable record, so the journal doubles as
// an audit trail and as the source for "where did the last deploy stop".
package history

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Store defines the interface for recording and querying deploy journals.
//
// The DynamoDB implementation uses TableTheory as the data layer; the memory
// implementation exists for tests and local development.
type Store interface {
	// Append writes one phase-transition record and returns its record ID.
	Append(ctx context.Context, record *Record) (string, error)

	// Journal retrieves every record of one deploy, oldest first.
	Journal(ctx context.Context, deployID string) ([]*Record, error)

	// List retrieves records for a site, newest first. Implementations may
	// mutate query.NextKey to return a pagination cursor.
	List(ctx context.Context, query *Query) ([]*Record, error)

	// Latest returns the most recent record for a site.
	Latest(ctx context.Context, site string) (*Record, error)

	// Purge removes every record of one deploy (cleanup after teardown).
	Purge(ctx context.Context, site, deployID string) error
}

// Operations a record can belong to.
const (
	OperationDeploy   = "deploy"
	OperationTeardown = "teardown"
)

// Record represents one phase transition of one deploy.
type Record struct {
	_ struct{} `theorydb:"naming:snake_case"`

	// Timestamps (8-byte aligned)
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at" theorydb:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty" theorydb:"omitempty"`

	// String fields (16 bytes each)
	RecordID     string `json:"record_id"`
	DeployID     string `json:"deploy_id" theorydb:"index:deploy-id-index,pk"`
	Site         string `json:"site"`
	Operation    string `json:"operation"`
	Phase        string `json:"phase"`
	ErrorCode    string `json:"error_code,omitempty" theorydb:"omitempty"`
	ErrorMessage string `json:"error_message,omitempty" theorydb:"omitempty"`
	PartitionKey string `json:"partition_key" theorydb:"pk,attr:pk"`
	SortKey      string `json:"sort_key" theorydb:"sk,attr:sk"`

	// Outputs carries the deploy outputs once known (distribution domain,
	// distribution ID, bucket name).
	Outputs map[string]string `json:"outputs,omitempty" theorydb:"omitempty"`

	// TTL is stored in the DynamoDB TTL attribute ("ttl") as a Unix timestamp in seconds.
	TTL int64 `json:"-" theorydb:"ttl,omitempty"`

	Version int `json:"version"`
}

const (
	defaultHistoryTableName = "sitetheory-history"
)

var (
	historyTableNameMu       sync.RWMutex
	historyTableNameOverride string
)

func (r *Record) TableName() string {
	if tableName := getHistoryTableNameOverride(); tableName != "" {
		return tableName
	}

	if name := os.Getenv("SITETHEORY_HISTORY_TABLE_NAME"); name != "" {
		return name
	}
	if name := os.Getenv("HISTORY_TABLE_NAME"); name != "" {
		return name
	}

	return defaultHistoryTableName
}

func setHistoryTableNameOverride(tableName string) error {
	if tableName == "" {
		return nil
	}

	historyTableNameMu.Lock()
	defer historyTableNameMu.Unlock()

	if historyTableNameOverride != "" && historyTableNameOverride != tableName {
		return fmt.Errorf("history table name already set to %q (cannot change to %q)", historyTableNameOverride, tableName)
	}
	historyTableNameOverride = tableName
	return nil
}

func getHistoryTableNameOverride() string {
	historyTableNameMu.RLock()
	defer historyTableNameMu.RUnlock()
	return historyTableNameOverride
}

// Query defines parameters for listing a site's records.
type Query struct {
	// Cursor shape carried between List calls.
	LastEvaluatedKey map[string]any
	NextKey          map[string]any // Returned pagination token for next query

	StartTime *time.Time
	EndTime   *time.Time

	Site      string
	Operation string
	Limit     int
}

// MetricRecord is a minimal, portable metric payload emitted by the store.
//
// SiteTheory does not wrap CloudWatch in core packages; callers can bridge
// this to their metrics backend.
type MetricRecord struct {
	Namespace string
	Name      string
	Value     float64
	Tags      map[string]string
}

// StoreConfig configures journal store behavior.
type StoreConfig struct {
	TableName        string
	MetricsNamespace string
	TTL              time.Duration
	RetryBaseDelay   time.Duration
	RetryAttempts    int
	EnableMetrics    bool
	EmitMetric       func(MetricRecord)
}

// DefaultStoreConfig returns sensible defaults. Journals are retained for a
// year; individual transitions are small.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		TTL:              365 * 24 * time.Hour,
		EnableMetrics:    true,
		MetricsNamespace: "SiteTheory/History",
		RetryAttempts:    3,
		RetryBaseDelay:   100 * time.Millisecond,
	}
}

// NewRecord creates a phase-transition record with generated ID and timestamps.
func NewRecord(site, operation, deployID, phase string) (*Record, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return nil, fmt.Errorf("site cannot be empty")
	}
	operation = strings.TrimSpace(operation)
	if operation != OperationDeploy && operation != OperationTeardown {
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
	deployID = strings.TrimSpace(deployID)
	if deployID == "" {
		return nil, fmt.Errorf("deploy ID cannot be empty")
	}
	phase = strings.TrimSpace(phase)
	if phase == "" {
		return nil, fmt.Errorf("phase cannot be empty")
	}

	recordID := ulid.Make().String()
	now := time.Now().UTC()

	return &Record{
		RecordID:     recordID,
		DeployID:     deployID,
		Site:         site,
		Operation:    operation,
		Phase:        phase,
		RecordedAt:   now,
		CreatedAt:    now,
		PartitionKey: partitionKeyForSite(site),
		SortKey:      fmt.Sprintf("%d#%s", now.UnixNano(), recordID),
		Version:      1,
	}, nil
}

// WithError attaches a failure to the record.
func (r *Record) WithError(code, message string) *Record {
	if r == nil {
		return nil
	}
	r.ErrorCode = code
	r.ErrorMessage = message
	return r
}

// WithOutputs attaches deploy outputs to the record.
func (r *Record) WithOutputs(outputs map[string]string) *Record {
	if r == nil {
		return nil
	}
	if len(outputs) == 0 {
		return r
	}
	if r.Outputs == nil {
		r.Outputs = make(map[string]string, len(outputs))
	}
	for k, v := range outputs {
		r.Outputs[k] = v
	}
	return r
}

// WithTTL sets an expiration time for the record.
func (r *Record) WithTTL(ttl time.Duration) *Record {
	if r == nil {
		return nil
	}
	r.ExpiresAt = r.CreatedAt.Add(ttl)
	return r
}

func partitionKeyForSite(site string) string {
	return "site#" + strings.TrimSpace(site)
}
