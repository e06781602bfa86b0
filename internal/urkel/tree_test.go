package urkel

import (
	"testing"

	"github.com/hnsd-go/hnscore/internal/store"
	"github.com/hnsd-go/hnscore/pkg/types"
)

func TestTree_InsertGetCommit(t *testing.T) {
	db := store.NewMemory()
	tree, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	key := types.Hash{0x01}
	tree.Insert(key, []byte("hello"))

	v, ok, err := tree.Get(key)
	if err != nil || !ok || string(v) != "hello" {
		t.Fatalf("Get before commit = %q, %v, %v", v, ok, err)
	}

	batch := db.NewBatch()
	root, err := tree.Commit(batch)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("batch.Commit: %v", err)
	}
	if root.IsZero() {
		t.Error("root should not be zero after committing a leaf")
	}
	if tree.CommittedRoot() != root {
		t.Error("CommittedRoot should equal the returned root")
	}
}

func TestTree_CommitIsDeterministic(t *testing.T) {
	db1 := store.NewMemory()
	tree1, _ := Open(db1)
	tree1.Insert(types.Hash{0x01}, []byte("a"))
	tree1.Insert(types.Hash{0x02}, []byte("b"))
	b1 := db1.NewBatch()
	root1, err := tree1.Commit(b1)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	b1.Commit()

	db2 := store.NewMemory()
	tree2, _ := Open(db2)
	// Insert in reverse order; root must not depend on insertion order.
	tree2.Insert(types.Hash{0x02}, []byte("b"))
	tree2.Insert(types.Hash{0x01}, []byte("a"))
	b2 := db2.NewBatch()
	root2, err := tree2.Commit(b2)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	b2.Commit()

	if root1 != root2 {
		t.Errorf("roots differ by insertion order: %x != %x", root1, root2)
	}
}

func TestTree_RemoveAffectsRoot(t *testing.T) {
	db := store.NewMemory()
	tree, _ := Open(db)
	tree.Insert(types.Hash{0x01}, []byte("a"))
	tree.Insert(types.Hash{0x02}, []byte("b"))
	b := db.NewBatch()
	rootWithBoth, _ := tree.Commit(b)
	b.Commit()

	tree.Remove(types.Hash{0x02})
	b2 := db.NewBatch()
	rootWithOne, err := tree.Commit(b2)
	if err != nil {
		t.Fatalf("Commit after remove: %v", err)
	}
	b2.Commit()

	if rootWithBoth == rootWithOne {
		t.Error("root should change after removing a leaf")
	}

	if _, ok, _ := tree.Get(types.Hash{0x02}); ok {
		t.Error("removed key should not be gettable")
	}
}

func TestTree_InjectRestoresCommittedRoot(t *testing.T) {
	db := store.NewMemory()
	tree, _ := Open(db)
	tree.Insert(types.Hash{0x01}, []byte("a"))
	b := db.NewBatch()
	firstRoot, _ := tree.Commit(b)
	b.Commit()

	tree.Insert(types.Hash{0x02}, []byte("b"))
	b2 := db.NewBatch()
	tree.Commit(b2)
	b2.Commit()

	b3 := db.NewBatch()
	if err := tree.Inject(b3, firstRoot); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if err := b3.Commit(); err != nil {
		t.Fatalf("b3.Commit: %v", err)
	}
	if tree.CommittedRoot() != firstRoot {
		t.Errorf("CommittedRoot after Inject = %x, want %x", tree.CommittedRoot(), firstRoot)
	}

	// The defining property: Get after Inject(R) must return the value
	// that was present at R, not whatever is currently live.
	if v, ok, err := tree.Get(types.Hash{0x01}); err != nil || !ok || string(v) != "a" {
		t.Fatalf("Get(0x01) after Inject = %q, %v, %v, want \"a\", true, nil", v, ok, err)
	}
	if _, ok, err := tree.Get(types.Hash{0x02}); err != nil || ok {
		t.Fatalf("Get(0x02) after Inject to firstRoot = ok:%v, err:%v, want ok:false", ok, err)
	}
}

func TestTree_InjectThenForwardRestoresLatestLeaves(t *testing.T) {
	db := store.NewMemory()
	tree, _ := Open(db)

	tree.Insert(types.Hash{0x01}, []byte("a"))
	b1 := db.NewBatch()
	firstRoot, _ := tree.Commit(b1)
	b1.Commit()

	tree.Insert(types.Hash{0x02}, []byte("b"))
	b2 := db.NewBatch()
	secondRoot, _ := tree.Commit(b2)
	b2.Commit()

	// Rewind to firstRoot, then replay forward to secondRoot: the tree
	// must end up exactly where it would have been without the detour.
	bInject := db.NewBatch()
	if err := tree.Inject(bInject, firstRoot); err != nil {
		t.Fatalf("Inject back: %v", err)
	}
	bInject.Commit()

	bForward := db.NewBatch()
	if err := tree.Inject(bForward, secondRoot); err != nil {
		t.Fatalf("Inject forward: %v", err)
	}
	bForward.Commit()

	if v, ok, err := tree.Get(types.Hash{0x02}); err != nil || !ok || string(v) != "b" {
		t.Fatalf("Get(0x02) after forward Inject = %q, %v, %v, want \"b\", true, nil", v, ok, err)
	}
	if tree.CommittedRoot() != secondRoot {
		t.Errorf("CommittedRoot after forward Inject = %x, want %x", tree.CommittedRoot(), secondRoot)
	}
}

// Exercises scenario S4: inject a run of historical roots and confirm
// each one's leaf value is restored exactly, not just its root pointer.
func TestTree_InjectAcrossWindowRestoresEachLeaf(t *testing.T) {
	db := store.NewMemory()
	tree, _ := Open(db)

	nameHash := types.Hash{0xaa}
	roots := make([]types.Hash, 0, RetentionIntervals)
	for i := 0; i < RetentionIntervals; i++ {
		tree.Insert(nameHash, []byte{byte(i)})
		b := db.NewBatch()
		root, err := tree.Commit(b)
		if err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
		b.Commit()
		roots = append(roots, root)
	}

	for i, root := range roots {
		batch := db.NewBatch()
		if err := tree.Inject(batch, root); err != nil {
			t.Fatalf("Inject(roots[%d]): %v", i, err)
		}
		if err := batch.Commit(); err != nil {
			t.Fatalf("batch.Commit: %v", err)
		}
		v, ok, err := tree.Get(nameHash)
		if err != nil || !ok || len(v) != 1 || v[0] != byte(i) {
			t.Fatalf("Get(nameHash) after Inject(roots[%d]) = %v, %v, %v, want [%d], true, nil", i, v, ok, err, i)
		}
	}
}

func TestTree_InjectUnknownRootFails(t *testing.T) {
	db := store.NewMemory()
	tree, _ := Open(db)
	tree.Insert(types.Hash{0x01}, []byte("a"))
	b := db.NewBatch()
	tree.Commit(b)
	b.Commit()

	batch := db.NewBatch()
	if err := tree.Inject(batch, types.Hash{0xff}); err == nil {
		t.Error("Inject of an unknown root should fail")
	}
}

func TestTree_CompactIdempotent(t *testing.T) {
	db := store.NewMemory()
	tree, _ := Open(db)

	for i := 0; i < RetentionIntervals+3; i++ {
		tree.Insert(types.Hash{byte(i)}, []byte{byte(i)})
		b := db.NewBatch()
		tree.Commit(b)
		b.Commit()
	}

	b1 := db.NewBatch()
	if err := tree.Compact(b1); err != nil {
		t.Fatalf("first Compact: %v", err)
	}
	b1.Commit()

	rootsAfterFirst := countRoots(t, db)

	b2 := db.NewBatch()
	if err := tree.Compact(b2); err != nil {
		t.Fatalf("second Compact: %v", err)
	}
	b2.Commit()

	rootsAfterSecond := countRoots(t, db)
	if rootsAfterFirst != rootsAfterSecond {
		t.Errorf("Compact is not idempotent: %d roots then %d", rootsAfterFirst, rootsAfterSecond)
	}
}

func countRoots(t *testing.T, db store.DB) int {
	t.Helper()
	n := 0
	err := store.ForEachPrefix(db, []byte(rootPrefix), func(key, value []byte) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachPrefix: %v", err)
	}
	return n
}

func TestTree_EmptyRootIsZero(t *testing.T) {
	db := store.NewMemory()
	tree, _ := Open(db)
	b := db.NewBatch()
	root, err := tree.Commit(b)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !root.IsZero() {
		t.Errorf("root of empty tree should be zero, got %x", root)
	}
}
