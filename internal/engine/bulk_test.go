package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/mschirtzinger/docgraph/internal/store/db"
	"github.com/mschirtzinger/docgraph/internal/types"
)

func notes(t *testing.T, store *db.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		addDoc(t, store, id, "note", "Note "+id, "")
	}
}

func relCount(t *testing.T, store *db.DB) int {
	t.Helper()
	n, err := store.GetRelationshipCount(context.Background())
	if err != nil {
		t.Fatalf("GetRelationshipCount() failed: %v", err)
	}
	return n
}

func TestCreateBulkRelationships(t *testing.T) {
	e, store := newTestEngine(t, DefaultConfig())
	notes(t, store, "A", "B", "C", "D")

	rels, err := e.CreateBulkRelationships(context.Background(), []types.RelationshipInput{
		{ParentID: "A", ChildID: "B"},
		{ParentID: "B", ChildID: "C", RelationshipType: types.RelReference},
		{ParentID: "A", ChildID: "D", RelationshipType: types.RelDerivedFrom},
	})
	if err != nil {
		t.Fatalf("CreateBulkRelationships() failed: %v", err)
	}
	if len(rels) != 3 {
		t.Fatalf("len(rels) = %d, want 3", len(rels))
	}
	if rels[0].RelationshipType != types.RelParentChild {
		t.Errorf("rels[0] type = %q, want default parent_child", rels[0].RelationshipType)
	}
	if rels[1].RelationshipType != types.RelReference {
		t.Errorf("rels[1] type = %q, want reference", rels[1].RelationshipType)
	}
	if n := relCount(t, store); n != 3 {
		t.Errorf("relationship count = %d, want 3", n)
	}
}

func TestCreateBulkRelationships_AllOrNothing(t *testing.T) {
	e, store := newTestEngine(t, DefaultConfig())
	notes(t, store, "A", "B", "C")
	mustCreate(t, e, "B", "C")

	tests := []struct {
		name      string
		items     []types.RelationshipInput
		wantIndex int
		wantErr   error
	}{
		{
			name: "missing document",
			items: []types.RelationshipInput{
				{ParentID: "A", ChildID: "B"},
				{ParentID: "A", ChildID: "ghost"},
			},
			wantIndex: 1, wantErr: types.ErrNotFound,
		},
		{
			name: "cycle against persisted graph",
			items: []types.RelationshipInput{
				{ParentID: "A", ChildID: "B"},
				{ParentID: "A", ChildID: "C"},
				{ParentID: "C", ChildID: "B"},
			},
			wantIndex: 2, wantErr: types.ErrCycleDetected,
		},
		{
			name: "duplicate of persisted edge",
			items: []types.RelationshipInput{
				{ParentID: "B", ChildID: "C", RelationshipType: types.RelReference},
			},
			wantIndex: 0, wantErr: types.ErrDuplicateRelationship,
		},
		{
			name: "duplicate within batch",
			items: []types.RelationshipInput{
				{ParentID: "A", ChildID: "B"},
				{ParentID: "A", ChildID: "B", RelationshipType: types.RelReference},
			},
			wantIndex: 1, wantErr: types.ErrDuplicateRelationship,
		},
		{
			name: "cycle within batch",
			items: []types.RelationshipInput{
				{ParentID: "A", ChildID: "B"},
				{ParentID: "C", ChildID: "A"},
			},
			wantIndex: 1, wantErr: types.ErrCycleDetected,
		},
		{
			name: "two-edge loop within batch",
			items: []types.RelationshipInput{
				{ParentID: "A", ChildID: "B"},
				{ParentID: "B", ChildID: "A"},
			},
			wantIndex: 1, wantErr: types.ErrCycleDetected,
		},
		{
			name: "invalid type",
			items: []types.RelationshipInput{
				{ParentID: "A", ChildID: "B", RelationshipType: "blocks"},
			},
			wantIndex: 0, wantErr: types.ErrInvalidRelationshipType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rels, err := e.CreateBulkRelationships(context.Background(), tt.items)
			if rels != nil {
				t.Errorf("rels = %v, want nil", rels)
			}
			var bulkErr *types.BulkError
			if !errors.As(err, &bulkErr) {
				t.Fatalf("error = %v, want *types.BulkError", err)
			}
			if bulkErr.Index != tt.wantIndex {
				t.Errorf("Index = %d, want %d", bulkErr.Index, tt.wantIndex)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if n := relCount(t, store); n != 1 {
				t.Errorf("relationship count = %d, want 1 (nothing persisted)", n)
			}
		})
	}
}

func TestCreateBulkRelationships_Empty(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	rels, err := e.CreateBulkRelationships(context.Background(), nil)
	if err != nil {
		t.Fatalf("CreateBulkRelationships(nil) failed: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("rels = %v, want empty", rels)
	}
}

func TestUpdateRelationshipType(t *testing.T) {
	e, store := newTestEngine(t, DefaultConfig())
	notes(t, store, "A", "B")
	rel := mustCreate(t, e, "A", "B")
	ctx := context.Background()

	updated, err := e.UpdateRelationshipType(ctx, rel.ID, types.RelReference)
	if err != nil {
		t.Fatalf("UpdateRelationshipType() failed: %v", err)
	}
	if updated.RelationshipType != types.RelReference {
		t.Errorf("RelationshipType = %q, want reference", updated.RelationshipType)
	}

	if _, err := e.UpdateRelationshipType(ctx, rel.ID, "blocks"); !errors.Is(err, types.ErrInvalidRelationshipType) {
		t.Errorf("UpdateRelationshipType(blocks) error = %v, want ErrInvalidRelationshipType", err)
	}
	if _, err := e.UpdateRelationshipType(ctx, "ghost", types.RelReference); !errors.Is(err, types.ErrRelationshipNotFound) {
		t.Errorf("UpdateRelationshipType(ghost) error = %v, want ErrRelationshipNotFound", err)
	}
}

func TestGetAndDeleteRelationship(t *testing.T) {
	e, store := newTestEngine(t, DefaultConfig())
	notes(t, store, "A", "B", "C")
	ab := mustCreate(t, e, "A", "B")
	mustCreate(t, e, "A", "C")
	ctx := context.Background()

	got, err := e.GetRelationship(ctx, ab.ID)
	if err != nil || got == nil || got.ChildID != "B" {
		t.Fatalf("GetRelationship() = %v, %v", got, err)
	}

	byParent, err := e.GetRelationshipsByParent(ctx, "A")
	if err != nil || len(byParent) != 2 {
		t.Errorf("GetRelationshipsByParent(A) = %v, %v; want 2 edges", byParent, err)
	}
	byChild, err := e.GetRelationshipsByChild(ctx, "B")
	if err != nil || len(byChild) != 1 {
		t.Errorf("GetRelationshipsByChild(B) = %v, %v; want 1 edge", byChild, err)
	}

	deleted, err := e.DeleteRelationship(ctx, ab.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteRelationship() = %v, %v; want true", deleted, err)
	}
	deleted, err = e.DeleteRelationship(ctx, ab.ID)
	if err != nil || deleted {
		t.Errorf("second DeleteRelationship() = %v, %v; want false", deleted, err)
	}

	// With the edge gone, the reverse direction is legal.
	mustCreate(t, e, "B", "A")
}

func TestEvents(t *testing.T) {
	e, store := newTestEngine(t, DefaultConfig())
	notes(t, store, "A", "B")

	var mu sync.Mutex
	var got []string
	e.Subscribe(ObserverFunc(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	}))

	ctx := context.Background()
	rel := mustCreate(t, e, "A", "B")
	if _, err := e.CreateRelationship(ctx, "B", "A", ""); err == nil {
		t.Fatal("cycle accepted")
	}
	if _, err := e.UpdateRelationshipType(ctx, rel.ID, types.RelDerivedFrom); err != nil {
		t.Fatal(err)
	}
	if _, err := e.MarkDescendantsForReview(ctx, "A", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := e.DeleteRelationship(ctx, rel.ID); err != nil {
		t.Fatal(err)
	}

	want := []string{EventRelationshipCreated, EventRelationshipUpdated, EventDescendantsMarked, EventRelationshipDeleted}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

// TestAcyclicity_RandomDAG builds a random graph through the engine, then
// attempts back-edges; every edge that would close a cycle must be rejected
// with ErrCycleDetected and the final graph must have no cycle.
func TestAcyclicity_RandomDAG(t *testing.T) {
	const n = 25
	cfg := DefaultConfig()
	cfg.CycleCheckDepth = n
	e, store := newTestEngine(t, cfg)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%02d", i)
	}
	notes(t, store, ids...)

	children := map[string]map[string]bool{}
	addEdge := func(p, c string) {
		if children[p] == nil {
			children[p] = map[string]bool{}
		}
		children[p][c] = true
	}
	reaches := func(from, to string) bool {
		seen := map[string]bool{from: true}
		stack := []string{from}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if cur == to {
				return true
			}
			for c := range children[cur] {
				if !seen[c] {
					seen[c] = true
					stack = append(stack, c)
				}
			}
		}
		return false
	}

	// Forward edges only: i < j.
	for k := 0; k < 60; k++ {
		i, j := rng.Intn(n), rng.Intn(n)
		if i >= j {
			continue
		}
		_, err := e.CreateRelationship(ctx, ids[i], ids[j], types.RelParentChild)
		switch {
		case err == nil:
			addEdge(ids[i], ids[j])
		case errors.Is(err, types.ErrDuplicateRelationship):
		default:
			t.Fatalf("forward edge %s -> %s failed: %v", ids[i], ids[j], err)
		}
	}

	// Random edges in either direction.
	for k := 0; k < 200; k++ {
		i, j := rng.Intn(n), rng.Intn(n)
		if i == j {
			continue
		}
		p, c := ids[i], ids[j]
		wouldCycle := reaches(c, p)
		exists := children[p][c]

		_, err := e.CreateRelationship(ctx, p, c, types.RelReference)
		switch {
		case exists:
			if !errors.Is(err, types.ErrDuplicateRelationship) {
				t.Fatalf("%s -> %s: error = %v, want ErrDuplicateRelationship", p, c, err)
			}
		case wouldCycle:
			if !errors.Is(err, types.ErrCycleDetected) {
				t.Fatalf("%s -> %s: error = %v, want ErrCycleDetected", p, c, err)
			}
		default:
			if err != nil {
				t.Fatalf("%s -> %s: unexpected error %v", p, c, err)
			}
			addEdge(p, c)
		}
	}

	all, err := store.ListAllRelationships(ctx)
	if err != nil {
		t.Fatalf("ListAllRelationships() failed: %v", err)
	}
	if err := checkAcyclic(all); err != nil {
		t.Fatal(err)
	}
}

func checkAcyclic(rels []*types.Relationship) error {
	adj := map[string][]string{}
	for _, r := range rels {
		adj[r.ParentID] = append(adj[r.ParentID], r.ChildID)
	}
	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	var visit func(string) error
	visit = func(u string) error {
		color[u] = grey
		for _, v := range adj[u] {
			switch color[v] {
			case grey:
				return fmt.Errorf("cycle through %s -> %s", u, v)
			case white:
				if err := visit(v); err != nil {
					return err
				}
			}
		}
		color[u] = black
		return nil
	}
	for u := range adj {
		if color[u] == white {
			if err := visit(u); err != nil {
				return err
			}
		}
	}
	return nil
}

func TestConcurrentCreate_NoCycle(t *testing.T) {
	e, store := newTestEngine(t, DefaultConfig())
	notes(t, store, "A", "B")
	ctx := context.Background()

	const rounds = 10
	for r := 0; r < rounds; r++ {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		pairs := [2][2]string{{"A", "B"}, {"B", "A"}}
		for i := range pairs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = e.CreateRelationship(ctx, pairs[i][0], pairs[i][1], types.RelParentChild)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, types.ErrCycleDetected):
			default:
				t.Fatalf("round %d: unexpected error %v", r, err)
			}
		}
		if ok != 1 {
			t.Fatalf("round %d: %d creates succeeded, want exactly 1", r, ok)
		}

		all, err := store.ListAllRelationships(ctx)
		if err != nil {
			t.Fatalf("ListAllRelationships() failed: %v", err)
		}
		for _, rel := range all {
			if _, err := store.DeleteRelationship(ctx, rel.ID); err != nil {
				t.Fatalf("DeleteRelationship() failed: %v", err)
			}
		}
	}
}

func TestRestoreRelationship(t *testing.T) {
	e, store := newTestEngine(t, DefaultConfig())
	notes(t, store, "A", "B", "C")
	ctx := context.Background()

	rel := &types.Relationship{ID: "rel-ab", ParentID: "A", ChildID: "B"}
	created, err := e.RestoreRelationship(ctx, rel)
	if err != nil || !created {
		t.Fatalf("RestoreRelationship() = %v, %v; want created", created, err)
	}
	got, err := e.GetRelationship(ctx, "rel-ab")
	if err != nil || got == nil {
		t.Fatalf("GetRelationship(rel-ab) = %v, %v", got, err)
	}
	if got.RelationshipType != types.RelParentChild {
		t.Errorf("RelationshipType = %q, want default", got.RelationshipType)
	}

	// Same pair, different type: the stored edge is retyped in place.
	created, err = e.RestoreRelationship(ctx, &types.Relationship{ID: "other", ParentID: "A", ChildID: "B", RelationshipType: types.RelReference})
	if err != nil || created {
		t.Fatalf("RestoreRelationship(retype) = %v, %v; want not created", created, err)
	}
	got, _ = e.GetRelationship(ctx, "rel-ab")
	if got.RelationshipType != types.RelReference {
		t.Errorf("RelationshipType = %q, want reference", got.RelationshipType)
	}

	// Restored edges are validated like new ones.
	_, err = e.RestoreRelationship(ctx, &types.Relationship{ID: "rel-ba", ParentID: "B", ChildID: "A"})
	if !errors.Is(err, types.ErrCycleDetected) {
		t.Errorf("RestoreRelationship(B -> A) error = %v, want ErrCycleDetected", err)
	}
}
