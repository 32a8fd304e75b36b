package bbolt

import (
	"context"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/donorhub/storage"
	"github.com/jmcleod/donorhub/storage/storagetest"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "donorhub-test.db"), 0600, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBBoltStorage(t *testing.T) {
	storagetest.Run(t, NewRepository(newTestDB(t)))
}

func TestSequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seq.db")
	ctx := context.Background()

	s, err := NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.NextID(ctx, "donor_registrations"); err != nil {
			t.Fatalf("NextID failed: %v", err)
		}
	}
	env := &storage.Envelope{Ver: 1, Scheme: storage.SchemeJSON, Data: []byte(`{}`), Version: 1}
	if err := s.Put(ctx, "donor_registrations", "3", env); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	seq, err := s.Sequence("donor_registrations")
	if err != nil || seq != 3 {
		t.Fatalf("expected sequence 3 after reopen, got %d (%v)", seq, err)
	}
	id, err := s.NextID(ctx, "donor_registrations")
	if err != nil || id != 4 {
		t.Errorf("expected next id 4, got %d (%v)", id, err)
	}
	if _, err := s.Get(ctx, "donor_registrations", "3"); err != nil {
		t.Errorf("record lost across reopen: %v", err)
	}
}
