package store_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

func newTestFileStore(t *testing.T, path string) *store.FileStore {
	t.Helper()
	st, err := store.NewFileStore(path, store.WithHashCost(crypto.MinCost))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return st
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")

	st := newTestFileStore(t, path)
	if created, err := st.Register("bob", "pw1"); err != nil || !created {
		t.Fatalf("Register = %v, %v; want true, nil", created, err)
	}

	reloaded := newTestFileStore(t, path)
	ok, err := reloaded.Authenticate("bob", "pw1")
	if err != nil || !ok {
		t.Fatalf("Authenticate after reload = %v, %v; want true, nil", ok, err)
	}
	if created, _ := reloaded.Register("bob", "x"); created {
		t.Fatalf("Register after reload accepted a duplicate")
	}
}

func TestFileStoreFileFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")

	st := newTestFileStore(t, path)
	for _, name := range []string{"alice", "bob"} {
		if _, err := st.Register(name, "pw"); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var onDisk map[string]string
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("file is not a JSON object: %v", err)
	}
	if len(onDisk) != 2 || !crypto.IsHash(onDisk["alice"]) || !crypto.IsHash(onDisk["bob"]) {
		t.Fatalf("unexpected file content: %s", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{"users.json"}, names); diff != "" {
		t.Errorf("leftover temp files (-want +got):\n%s", diff)
	}
}

func TestFileStoreLoadsExistingMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	hash, err := crypto.HashPassword("secret", crypto.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	data, _ := json.Marshal(map[string]string{"carol": hash})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st := newTestFileStore(t, path)
	if n, _ := st.Count(); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
	if ok, _ := st.Authenticate("carol", "secret"); !ok {
		t.Fatalf("Authenticate(carol) = false")
	}
}

func TestFileStoreKeepsUnreadableHashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	data, _ := json.Marshal(map[string]string{"legacy": "not-a-bcrypt-hash"})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st := newTestFileStore(t, path)
	if ok, _ := st.Authenticate("legacy", "not-a-bcrypt-hash"); ok {
		t.Fatalf("unreadable hash authenticated")
	}
	created, err := st.Register("legacy", "pw")
	if err != nil || created {
		t.Fatalf("Register(legacy) = %v, %v; want false, nil", created, err)
	}

	// A rewrite triggered by another registration keeps the record as is.
	if _, err := st.Register("bob", "pw1"); err != nil {
		t.Fatalf("Register(bob): %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var onDisk map[string]string
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if onDisk["legacy"] != "not-a-bcrypt-hash" {
		t.Fatalf("legacy record = %q after rewrite", onDisk["legacy"])
	}

	names, err := newTestFileStore(t, path).Usernames()
	if err != nil {
		t.Fatalf("Usernames: %v", err)
	}
	if diff := cmp.Diff([]string{"bob", "legacy"}, names); diff != "" {
		t.Fatalf("Usernames mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	st := newTestFileStore(t, path)
	if n, _ := st.Count(); n != 0 {
		t.Fatalf("Count = %d, want 0", n)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := store.NewFileStore(path); err == nil {
		t.Fatalf("NewFileStore on corrupt file: expected error")
	}
}

func TestFileStorePersistFailureRollsBack(t *testing.T) {
	// The parent directory does not exist, so the rewrite must fail.
	path := filepath.Join(t.TempDir(), "missing", "users.json")
	st := newTestFileStore(t, path)

	created, err := st.Register("bob", "pw1")
	if err == nil {
		t.Fatalf("Register: expected persistence error")
	}
	if created {
		t.Fatalf("Register reported created despite failure")
	}
	if n, _ := st.Count(); n != 0 {
		t.Fatalf("Count = %d after failed persist, want 0", n)
	}
	if ok, _ := st.Authenticate("bob", "pw1"); ok {
		t.Fatalf("rolled-back user still authenticates")
	}
}
