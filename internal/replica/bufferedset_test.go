package replica

import "testing"

func TestBufferedSet_VisibilityAfterCommit(t *testing.T) {
	s := NewBufferedSet[int64]()

	s.Add(1)
	s.Add(2)
	if s.Contains(1) {
		t.Fatal("uncommitted add is visible")
	}

	s.Commit()
	if !s.Contains(1) || !s.Contains(2) {
		t.Fatal("committed adds not visible")
	}
	if s.Len() != 2 {
		t.Fatalf("len: got %d want 2", s.Len())
	}

	s.Remove(1)
	if !s.Contains(1) {
		t.Fatal("uncommitted remove is visible")
	}
	s.Commit()
	if s.Contains(1) {
		t.Fatal("committed remove not applied")
	}
}

func TestBufferedSet_SnapshotIsStable(t *testing.T) {
	s := NewBufferedSet[int64]()
	s.Add(1)
	s.Commit()

	snap := s.Snapshot()
	s.Add(2)
	s.Commit()

	if _, ok := snap[2]; ok {
		t.Fatal("old snapshot sees later commit")
	}
	if len(snap) != 1 {
		t.Fatalf("snapshot len: got %d want 1", len(snap))
	}
	if _, ok := s.Snapshot()[2]; !ok {
		t.Fatal("new snapshot missing committed element")
	}
}
