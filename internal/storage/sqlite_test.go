package storage

import (
	"fmt"
	"testing"
	"time"
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

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
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

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) != 2 {
		t.Fatalf("applied %d migrations, want 2", len(versions))
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_messages_created", "idx_messages_status"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// TestGetMissingKey verifies that an absent key is reported as not found
// rather than as an empty value.
func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)

	v, ok, err := s.Get("options")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Errorf("Get reported a value %q for a key that was never set", v)
	}
}

func TestSetAndGetEmptyValue(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("options", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get("options")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("empty value reported as missing")
	}
	if v != "" {
		t.Errorf("value = %q, want empty", v)
	}
}

// TestSetReplaces verifies a second Set overwrites the first wholesale.
func TestSetReplaces(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("options", `{"hh-in-bold":"1","locale":"fr"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("options", `{"mm-in-bold":"0"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, _, err := s.Get("options")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != `{"mm-in-bold":"0"}` {
		t.Errorf("value = %q, want %q", v, `{"mm-in-bold":"0"}`)
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetSetting("locale"); err != ErrNotFound {
		t.Errorf("GetSetting(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.SetSetting("locale", 2); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting("hh_in_bold", 1); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting("locale", 3); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}

	v, err := s.GetSetting("locale")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != 3 {
		t.Errorf("locale = %d, want 3", v)
	}

	all, err := s.AllSettings()
	if err != nil {
		t.Fatalf("AllSettings: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("AllSettings returned %d keys, want 2", len(all))
	}

	if err := s.DeleteSetting("locale"); err != nil {
		t.Fatalf("DeleteSetting: %v", err)
	}
	if err := s.DeleteSetting("locale"); err != nil {
		t.Fatalf("DeleteSetting on missing key: %v", err)
	}
	if _, err := s.GetSetting("locale"); err != ErrNotFound {
		t.Errorf("GetSetting after delete error = %v, want ErrNotFound", err)
	}
}

func TestRecordAndGetMessage(t *testing.T) {
	s := openTestStore(t)

	m := MessageRecord{
		ID:      "msg-1",
		FlowID:  "flow-1",
		Payload: `{"CONFIG_KEY_LOCALE":"en_US"}`,
	}
	if err := s.RecordMessage(m); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}

	got, err := s.GetMessage("msg-1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.Payload != m.Payload {
		t.Errorf("Payload = %q, want %q", got.Payload, m.Payload)
	}
	if got.FlowID != "flow-1" {
		t.Errorf("FlowID = %q, want flow-1", got.FlowID)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if _, err := s.GetMessage("nope"); err != ErrNotFound {
		t.Errorf("GetMessage(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordMessage(MessageRecord{ID: "msg-2", Payload: "{}"}); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}
	if err := s.UpdateMessageStatus("msg-2", StatusFailed, "timeout"); err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}

	got, err := s.GetMessage("msg-2")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "timeout" {
		t.Errorf("got status=%q error=%q, want failed/timeout", got.Status, got.Error)
	}

	if err := s.UpdateMessageStatus("missing", StatusAcked, ""); err != ErrNotFound {
		t.Errorf("UpdateMessageStatus(missing) error = %v, want ErrNotFound", err)
	}
}

// TestListMessagesNewestFirst verifies ordering and pagination.
func TestListMessagesNewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := MessageRecord{
			ID:        fmt.Sprintf("msg-%d", i),
			Payload:   "{}",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.RecordMessage(m); err != nil {
			t.Fatalf("RecordMessage: %v", err)
		}
	}

	page, err := s.ListMessages(2, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d messages, want 2", len(page))
	}
	if page[0].ID != "msg-4" || page[1].ID != "msg-3" {
		t.Errorf("first page = [%s %s], want [msg-4 msg-3]", page[0].ID, page[1].ID)
	}

	rest, err := s.ListMessages(10, 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(rest) != 3 {
		t.Fatalf("got %d messages, want 3", len(rest))
	}
	if rest[2].ID != "msg-0" {
		t.Errorf("last = %s, want msg-0", rest[2].ID)
	}
}
