package blockplan

import "testing"

func plan(id string) *Plan {
	p, err := Validate(id, 0, 10010, validSegments())
	if err != nil {
		panic(err)
	}
	return p
}

func TestQueueEnqueueAndCommit(t *testing.T) {
	q := NewQueue()
	if q.Current() != nil {
		t.Fatalf("expected nil current initially")
	}
	if err := q.Enqueue(plan("A")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !q.HasNext() {
		t.Fatalf("expected HasNext true")
	}
	newCur, oldCur, ok := q.Commit()
	if !ok || newCur.BlockID != "A" || oldCur != nil {
		t.Fatalf("Commit = %+v, %+v, %v", newCur, oldCur, ok)
	}
	if q.HasNext() {
		t.Fatalf("expected HasNext false after commit")
	}
}

func TestQueueEnqueueFailsWhenNextOccupied(t *testing.T) {
	q := NewQueue()
	if err := q.Enqueue(plan("A")); err != nil {
		t.Fatalf("Enqueue A: %v", err)
	}
	if err := q.Enqueue(plan("B")); err != ErrNextOccupied {
		t.Fatalf("Enqueue B: got %v, want ErrNextOccupied", err)
	}
}

func TestQueueCommitWithNoNextFails(t *testing.T) {
	q := NewQueue()
	_, _, ok := q.Commit()
	if ok {
		t.Fatalf("expected Commit to fail with empty next slot")
	}
}

func TestQueueSequentialCommits(t *testing.T) {
	q := NewQueue()
	_ = q.Enqueue(plan("A"))
	newCur, _, _ := q.Commit()
	if newCur.BlockID != "A" {
		t.Fatalf("got %s, want A", newCur.BlockID)
	}
	_ = q.Enqueue(plan("B"))
	newCur, oldCur, ok := q.Commit()
	if !ok || newCur.BlockID != "B" || oldCur.BlockID != "A" {
		t.Fatalf("Commit = %+v, %+v, %v", newCur, oldCur, ok)
	}
}
