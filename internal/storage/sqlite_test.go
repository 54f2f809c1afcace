package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stepClock returns a now func that advances by one second per call.
func stepClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func strPtr(s string) *string { return &s }

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if _, err := s1.SaveProfiles([]map[string]any{{"profileUrl": "https://linkedin.com/in/a"}}); err != nil {
		t.Fatalf("SaveProfiles: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if diff := cmp.Diff(v1, v2); diff != "" {
		t.Errorf("migrations changed across reopen (-first +second):\n%s", diff)
	}

	n, err := s2.CountProfiles()
	if err != nil {
		t.Fatalf("CountProfiles: %v", err)
	}
	if n != 1 {
		t.Errorf("profiles after reopen = %d, want 1", n)
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_profiles_status", "idx_profiles_created", "idx_connections_created", "idx_connections_profile"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if v, err := parseMigrationVersion("001_initial.sql"); err != nil || v != 1 {
		t.Errorf("parseMigrationVersion(001_initial.sql) = %d, %v", v, err)
	}
	if _, err := parseMigrationVersion("initial.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

func TestSaveProfiles_SkipsMissingURL(t *testing.T) {
	s := openTestStore(t)

	n, err := s.SaveProfiles([]map[string]any{
		{"profileUrl": "https://linkedin.com/in/jane", "name": "Jane"},
		{"name": "No URL"},
		{"profileUrl": "", "name": "Empty URL"},
		{"profileUrl": 42, "name": "Numeric URL"},
		{"profileUrl": "https://linkedin.com/in/bob", "name": "Bob"},
	})
	if err != nil {
		t.Fatalf("SaveProfiles: %v", err)
	}
	if n != 2 {
		t.Errorf("stored = %d, want 2", n)
	}

	count, err := s.CountProfiles()
	if err != nil {
		t.Fatalf("CountProfiles: %v", err)
	}
	if count != 2 {
		t.Errorf("CountProfiles = %d, want 2", count)
	}
}

func TestSaveProfiles_UpsertReplacesData(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	url := "https://linkedin.com/in/jane"
	if _, err := s.SaveProfiles([]map[string]any{{"profileUrl": url, "name": "Jane", "company": "Acme"}}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	first, err := s.GetProfile(url)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}

	if _, err := s.SaveProfiles([]map[string]any{{"profileUrl": url, "name": "Jane D.", "status": "pending"}}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err := s.GetProfile(url)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}

	want := map[string]any{"profileUrl": url, "name": "Jane D.", "status": "pending"}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if got.Status != "pending" {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on upsert: %v -> %v", first.CreatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt not advanced: %v -> %v", first.UpdatedAt, got.UpdatedAt)
	}

	count, _ := s.CountProfiles()
	if count != 1 {
		t.Errorf("CountProfiles = %d, want 1", count)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetProfile("https://linkedin.com/in/nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListProfiles_OrderAndStatusFilter(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	for i, status := range []string{"pending", "", "pending"} {
		rec := map[string]any{"profileUrl": fmt.Sprintf("https://linkedin.com/in/p%d", i)}
		if status != "" {
			rec["status"] = status
		}
		if _, err := s.SaveProfiles([]map[string]any{rec}); err != nil {
			t.Fatalf("SaveProfiles: %v", err)
		}
	}

	all, err := s.ListProfiles("")
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	var urls []string
	for _, p := range all {
		urls = append(urls, p.URL)
	}
	want := []string{"https://linkedin.com/in/p0", "https://linkedin.com/in/p1", "https://linkedin.com/in/p2"}
	if diff := cmp.Diff(want, urls); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	pending, err := s.ListProfiles("pending")
	if err != nil {
		t.Fatalf("ListProfiles(pending): %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}

	none, err := s.ListProfiles("connected")
	if err != nil {
		t.Fatalf("ListProfiles(connected): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("connected = %d, want 0", len(none))
	}
}

func TestRecordConnection_MarksProfileConnected(t *testing.T) {
	s := openTestStore(t)

	url := "https://linkedin.com/in/jane"
	if _, err := s.SaveProfiles([]map[string]any{{"profileUrl": url, "name": "Jane"}}); err != nil {
		t.Fatalf("SaveProfiles: %v", err)
	}

	at := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	c, err := s.RecordConnection(Connection{ProfileURL: url, ConnectedAt: at, MessageUsed: strPtr("Hi Jane")})
	if err != nil {
		t.Fatalf("RecordConnection: %v", err)
	}
	if c.ID == "" {
		t.Error("expected generated ID")
	}

	p, err := s.GetProfile(url)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Status != StatusConnected {
		t.Errorf("Status = %q, want %q", p.Status, StatusConnected)
	}
	if p.Data[FieldStatus] != StatusConnected {
		t.Errorf("data status = %v", p.Data[FieldStatus])
	}
	if ts, ok := p.Data[FieldConnectionTimestamp].(float64); !ok || ts != float64(at.Unix()) {
		t.Errorf("connectionTimestamp = %v, want %d", p.Data[FieldConnectionTimestamp], at.Unix())
	}
	if p.Data["name"] != "Jane" {
		t.Errorf("name lost on update: %v", p.Data["name"])
	}

	connected, _ := s.ListProfiles(StatusConnected)
	if len(connected) != 1 {
		t.Errorf("connected profiles = %d, want 1", len(connected))
	}
}

func TestRecordConnection_UnknownProfile(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.RecordConnection(Connection{ProfileURL: "https://linkedin.com/in/ghost"}); err != nil {
		t.Fatalf("RecordConnection: %v", err)
	}

	n, err := s.CountConnections()
	if err != nil {
		t.Fatalf("CountConnections: %v", err)
	}
	if n != 1 {
		t.Errorf("CountConnections = %d, want 1", n)
	}
	if _, err := s.GetProfile("https://linkedin.com/in/ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown profile was created: %v", err)
	}
}

func TestListConnections_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = stepClock(start)

	var recorded []Connection
	for i := 0; i < 3; i++ {
		c, err := s.RecordConnection(Connection{
			ProfileURL:  fmt.Sprintf("https://linkedin.com/in/p%d", i),
			MessageUsed: strPtr(fmt.Sprintf("msg %d", i)),
		})
		if err != nil {
			t.Fatalf("RecordConnection: %v", err)
		}
		recorded = append(recorded, c)
	}
	if _, err := s.RecordConnection(Connection{ProfileURL: "https://linkedin.com/in/silent"}); err != nil {
		t.Fatalf("RecordConnection: %v", err)
	}

	got, err := s.ListConnections(3, 0)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d connections, want 3", len(got))
	}
	if got[0].ProfileURL != "https://linkedin.com/in/silent" || got[0].MessageUsed != nil {
		t.Errorf("newest = %+v", got[0])
	}

	want := []Connection{recorded[2], recorded[1]}
	if diff := cmp.Diff(want, got[1:], cmpopts.EquateApproxTime(time.Microsecond)); diff != "" {
		t.Errorf("connections mismatch (-want +got):\n%s", diff)
	}

	page, err := s.ListConnections(10, 3)
	if err != nil {
		t.Fatalf("ListConnections offset: %v", err)
	}
	if len(page) != 1 || page[0].ProfileURL != "https://linkedin.com/in/p0" {
		t.Errorf("offset page = %+v", page)
	}
}

func TestCountConnectionsSince(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = stepClock(start)

	for i := 0; i < 5; i++ {
		if _, err := s.RecordConnection(Connection{ProfileURL: fmt.Sprintf("https://linkedin.com/in/p%d", i)}); err != nil {
			t.Fatalf("RecordConnection: %v", err)
		}
	}

	// Entries were created at start+1s through start+5s.
	n, err := s.CountConnectionsSince(start.Add(3 * time.Second))
	if err != nil {
		t.Fatalf("CountConnectionsSince: %v", err)
	}
	if n != 3 {
		t.Errorf("CountConnectionsSince = %d, want 3", n)
	}
}
