package history

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func appendRecordAt(t *testing.T, store *MemoryStore, site, deployID, operation, phase string, at time.Time) *Record {
	t.Helper()

	record, err := NewRecord(site, operation, deployID, phase)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	record.RecordedAt = at
	record.SortKey = fmt.Sprintf("%d#%s", at.UnixNano(), record.RecordID)

	if _, err := store.Append(context.Background(), record); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return record
}

func TestMemoryStoreJournal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, "certificate-pending", base)
	appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, "certificate-issued", base.Add(time.Minute))
	appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, "distribution-deploying", base.Add(2*time.Minute))
	appendRecordAt(t, store, "app.example.com", "01D2", OperationTeardown, "absent", base.Add(3*time.Minute))

	journal, err := store.Journal(ctx, "01D1")
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(journal) != 3 {
		t.Fatalf("journal length: %d", len(journal))
	}
	phases := []string{"certificate-pending", "certificate-issued", "distribution-deploying"}
	for i, want := range phases {
		if journal[i].Phase != want {
			t.Fatalf("journal[%d]: %q, want %q", i, journal[i].Phase, want)
		}
	}

	other, err := store.Journal(ctx, "01D2")
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(other) != 1 || other[0].Operation != OperationTeardown {
		t.Fatalf("other journal: %+v", other)
	}

	empty, err := store.Journal(ctx, "01D9")
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("unknown deploy journal: %d records", len(empty))
	}

	if _, err := store.Journal(ctx, ""); err == nil {
		t.Fatal("empty deploy ID accepted")
	}
}

func TestMemoryStoreAppendValidates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, nil); err == nil {
		t.Fatal("nil record accepted")
	}
	if _, err := store.Append(ctx, &Record{DeployID: "01D1", Phase: "absent"}); err == nil {
		t.Fatal("record without site accepted")
	}
}

func TestMemoryStoreAppendCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, "certificate-pending", time.Now().UTC())
	record.Phase = "mutated-after-append"

	journal, err := store.Journal(ctx, "01D1")
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if journal[0].Phase != "certificate-pending" {
		t.Fatalf("stored record mutated: %q", journal[0].Phase)
	}
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, "certificate-pending", base)
	appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, "dns-bound", base.Add(time.Hour))
	appendRecordAt(t, store, "app.example.com", "01D2", OperationTeardown, "absent", base.Add(2*time.Hour))
	appendRecordAt(t, store, "other.example.com", "01D3", OperationDeploy, "dns-bound", base.Add(3*time.Hour))

	records, err := store.List(ctx, &Query{Site: "app.example.com"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records: %d", len(records))
	}
	if records[0].Phase != "absent" || records[2].Phase != "certificate-pending" {
		t.Fatalf("ordering: %q .. %q", records[0].Phase, records[2].Phase)
	}

	deploys, err := store.List(ctx, &Query{Site: "app.example.com", Operation: OperationDeploy})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(deploys) != 2 {
		t.Fatalf("deploy records: %d", len(deploys))
	}

	start := base.Add(30 * time.Minute)
	end := base.Add(90 * time.Minute)
	windowed, err := store.List(ctx, &Query{Site: "app.example.com", StartTime: &start, EndTime: &end})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(windowed) != 1 || windowed[0].Phase != "dns-bound" {
		t.Fatalf("windowed records: %+v", windowed)
	}

	if _, err := store.List(ctx, &Query{}); err == nil {
		t.Fatal("query without site accepted")
	}
	if _, err := store.List(ctx, nil); err == nil {
		t.Fatal("nil query accepted")
	}
}

func TestMemoryStoreListPagination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		phase := fmt.Sprintf("phase-%d", i)
		appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, phase, base.Add(time.Duration(i)*time.Minute))
	}

	var seen []string
	query := &Query{Site: "app.example.com", Limit: 2}
	for page := 0; ; page++ {
		records, err := store.List(ctx, query)
		if err != nil {
			t.Fatalf("List page %d: %v", page, err)
		}
		for _, record := range records {
			seen = append(seen, record.Phase)
		}
		if query.NextKey == nil {
			break
		}
		if len(records) != 2 {
			t.Fatalf("page %d size: %d", page, len(records))
		}
		query = &Query{Site: "app.example.com", Limit: 2, LastEvaluatedKey: query.NextKey}
	}

	want := []string{"phase-4", "phase-3", "phase-2", "phase-1", "phase-0"}
	if len(seen) != len(want) {
		t.Fatalf("paged records: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("paged order: %v", seen)
		}
	}

	bad := &Query{Site: "app.example.com", LastEvaluatedKey: map[string]any{"cursor": "!!!"}}
	if _, err := store.List(ctx, bad); err == nil {
		t.Fatal("garbage cursor accepted")
	}
}

func TestMemoryStoreLatest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	missing, err := store.Latest(ctx, "app.example.com")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if missing != nil {
		t.Fatalf("latest on empty store: %+v", missing)
	}

	appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, "certificate-pending", base)
	appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, "dns-bound", base.Add(time.Hour))

	latest, err := store.Latest(ctx, "app.example.com")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.Phase != "dns-bound" {
		t.Fatalf("latest: %+v", latest)
	}
}

func TestMemoryStorePurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appendRecordAt(t, store, "app.example.com", "01D1", OperationDeploy, "dns-bound", base)
	appendRecordAt(t, store, "app.example.com", "01D2", OperationTeardown, "absent", base.Add(time.Minute))
	appendRecordAt(t, store, "other.example.com", "01D1", OperationDeploy, "dns-bound", base.Add(2*time.Minute))

	if err := store.Purge(ctx, "app.example.com", "01D1"); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	journal, err := store.Journal(ctx, "01D1")
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	// The other site's deploy shares the ID and must survive.
	if len(journal) != 1 || journal[0].Site != "other.example.com" {
		t.Fatalf("journal after purge: %+v", journal)
	}

	kept, err := store.Journal(ctx, "01D2")
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("unrelated deploy purged: %d records", len(kept))
	}

	if err := store.Purge(ctx, "", "01D1"); err == nil {
		t.Fatal("empty site accepted")
	}
	if err := store.Purge(ctx, "app.example.com", ""); err == nil {
		t.Fatal("empty deploy ID accepted")
	}
}
