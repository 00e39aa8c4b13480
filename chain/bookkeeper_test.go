package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestBookkeeper_SaveBlocksInMainBranch(t *testing.T) {
	ctx := context.Background()
	dal := newFakeDAL()
	cc := NewChainContext(dal, &fakeRules{}, Config{DT: 86400}, nil)
	bk := NewBookkeeper(dal, cc, Config{DT: 86400}, nil)

	root := &Block{Number: 0, Hash: hashFromString("root")}
	b1 := &Block{Number: 1, PreviousHash: root.Hash, Hash: hashFromString("b1"), Dividend: uint256.NewInt(10), MembersCount: 0}
	b2 := &Block{Number: 2, PreviousHash: b1.Hash, Hash: hashFromString("b2")}

	if err := bk.SaveBlocksInMainBranch(ctx, []*Block{root, b1, b2}, 2); err != nil {
		t.Fatalf("save segment: %v", err)
	}

	current, err := dal.GetCurrentBlockOrNull(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Number != 2 {
		t.Fatalf("current number = %d, want 2", current.Number)
	}
	if dal.rootSaved == nil {
		t.Fatal("expected root parameters to be saved")
	}
}

func TestBookkeeper_SaveBlocksInMainBranch_RejectsGap(t *testing.T) {
	ctx := context.Background()
	dal := newFakeDAL()
	cc := NewChainContext(dal, &fakeRules{}, Config{}, nil)
	bk := NewBookkeeper(dal, cc, Config{}, nil)

	root := &Block{Number: 0, Hash: hashFromString("root")}
	skip := &Block{Number: 2, PreviousHash: hashFromString("ghost"), Hash: hashFromString("b2")}

	err := bk.SaveBlocksInMainBranch(ctx, []*Block{root, skip}, 2)
	if !errors.Is(err, ErrDiscontinuousChain) {
		t.Fatalf("err = %v, want ErrDiscontinuousChain", err)
	}
}

func TestBookkeeper_SaveBlocksInMainBranch_RejectsMissingPredecessor(t *testing.T) {
	ctx := context.Background()
	dal := newFakeDAL()
	cc := NewChainContext(dal, &fakeRules{}, Config{}, nil)
	bk := NewBookkeeper(dal, cc, Config{}, nil)

	// Segment starts at 5 with no predecessor saved anywhere.
	b5 := &Block{Number: 5, PreviousHash: hashFromString("missing"), Hash: hashFromString("b5")}
	err := bk.SaveBlocksInMainBranch(ctx, []*Block{b5}, 5)
	if !errors.Is(err, ErrDiscontinuousChain) {
		t.Fatalf("err = %v, want ErrDiscontinuousChain", err)
	}
}

func TestBookkeeper_ObsoleteInMainBranch(t *testing.T) {
	ctx := context.Background()
	dal := newFakeDAL()
	cc := NewChainContext(dal, &fakeRules{}, Config{}, nil)
	bk := NewBookkeeper(dal, cc, Config{MSValidity: 100, SigValidity: 200}, nil)

	current := &Block{Number: 10, MedianTime: 1000}
	if err := bk.ObsoleteInMainBranch(ctx, current); err != nil {
		t.Fatalf("obsolete: %v", err)
	}

	if err := bk.ObsoleteInMainBranch(ctx, nil); err != nil {
		t.Fatalf("obsolete with nil current should be a no-op, got: %v", err)
	}
}
