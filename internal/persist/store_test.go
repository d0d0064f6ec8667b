package persist

import (
	"reflect"
	"testing"
	"time"
)

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(NewMemKV(), nil)
	_, ok, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for empty store")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	kv := NewMemKV()
	store := NewStore(kv, nil)
	created := time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC)
	snapshot := SessionSnapshot{
		Tabs: []TabRecord{
			{ID: "t1", ConversationID: 7, Title: "Groceries", CreatedAt: created},
			{ID: "t2", Title: "New Chat", CreatedAt: created.Add(time.Minute)},
		},
		ActiveTab:    "t2",
		Conversation: 7,
	}
	if err := store.Save(snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected layout to be found")
	}
	if !reflect.DeepEqual(loaded, snapshot) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, snapshot)
	}
}

func TestStoreRemovesEmptyKeys(t *testing.T) {
	kv := NewMemKV()
	store := NewStore(kv, nil)
	snapshot := SessionSnapshot{
		Tabs:         []TabRecord{{ID: "t1", ConversationID: 3, Title: "Budgets"}},
		ActiveTab:    "t1",
		Conversation: 3,
	}
	if err := store.Save(snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := len(kv.Keys()); got != 3 {
		t.Fatalf("expected 3 keys, got %d: %v", got, kv.Keys())
	}
	if err := store.Save(SessionSnapshot{}); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	if got := len(kv.Keys()); got != 0 {
		t.Fatalf("expected keys to be removed, still have %v", kv.Keys())
	}
}

func TestFileKVRoundTrip(t *testing.T) {
	kv, err := NewFileKV(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new file kv: %v", err)
	}
	if _, ok, err := kv.Get("tabs"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := kv.Put("tabs", []byte(`[{"id":"t1"}]`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, ok, err := kv.Get("tabs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(value) != `[{"id":"t1"}]` {
		t.Fatalf("unexpected value %q ok=%v", value, ok)
	}
	if err := kv.Delete("tabs"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Get("tabs"); ok {
		t.Fatalf("expected key to be gone after delete")
	}
	if err := kv.Delete("tabs"); err != nil {
		t.Fatalf("delete of missing key: %v", err)
	}
}

func TestFileKVValuesAreSealed(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir, nil)
	if err != nil {
		t.Fatalf("new file kv: %v", err)
	}
	plain := []byte(`{"active_tab":"t9"}`)
	if err := kv.Put("active_tab", plain); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, err := readFileForTest(dir, "active_tab.enc")
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if containsSubslice(raw, plain) {
		t.Fatalf("value stored in cleartext")
	}
}
