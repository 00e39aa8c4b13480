package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestChainContext_AddBlock_RootThenExtend(t *testing.T) {
	dal := newFakeDAL()
	cc := NewChainContext(dal, &fakeRules{}, Config{DT: 86400}, nil)

	root := &Block{Number: 0, Hash: hashFromString("root")}
	applied, err := cc.AddBlock(context.Background(), root, false)
	if err != nil {
		t.Fatalf("add root: %v", err)
	}
	if applied.Fork || applied.Wrong {
		t.Fatalf("root should not be marked fork/wrong")
	}

	next := &Block{Number: 1, PreviousHash: root.Hash, Hash: hashFromString("b1")}
	applied2, err := cc.AddBlock(context.Background(), next, false)
	if err != nil {
		t.Fatalf("add block 1: %v", err)
	}
	if applied2.Number != 1 {
		t.Fatalf("number = %d, want 1", applied2.Number)
	}

	current, err := cc.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Number != 1 || current.Hash != next.Hash {
		t.Fatalf("current = %+v, want block 1", current)
	}
}

func TestChainContext_AddBlock_RejectsNonExtending(t *testing.T) {
	dal := newFakeDAL()
	cc := NewChainContext(dal, &fakeRules{}, Config{}, nil)

	root := &Block{Number: 0, Hash: hashFromString("root")}
	if _, err := cc.AddBlock(context.Background(), root, false); err != nil {
		t.Fatalf("add root: %v", err)
	}

	bad := &Block{Number: 5, PreviousHash: hashFromString("nope")}
	if _, err := cc.AddBlock(context.Background(), bad, false); !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("err = %v, want ErrUnknownParent", err)
	}
}

func TestChainContext_AddBlock_ChecksWhenRequested(t *testing.T) {
	dal := newFakeDAL()
	wantErr := errors.New("boom")
	cc := NewChainContext(dal, &fakeRules{checkErr: wantErr}, Config{}, nil)

	root := &Block{Number: 0}
	_, err := cc.AddBlock(context.Background(), root, true)
	if err == nil {
		t.Fatal("expected rejection from rules engine")
	}
	ibe, ok := AsInvalidBlockError(err)
	if !ok {
		t.Fatalf("err = %v, want *InvalidBlockError", err)
	}
	if ibe.Reason != wantErr.Error() {
		t.Fatalf("reason = %q, want %q", ibe.Reason, wantErr.Error())
	}
}

func TestChainContext_RevertCurrentBlock_ArchivesToForkStore(t *testing.T) {
	dal := newFakeDAL()
	cc := NewChainContext(dal, &fakeRules{}, Config{}, nil)
	fs := NewForkStore(newFakeForkBackend())
	ctx := context.Background()

	root := &Block{Number: 0, Hash: hashFromString("root")}
	if _, err := cc.AddBlock(ctx, root, false); err != nil {
		t.Fatalf("add root: %v", err)
	}
	b1 := &Block{Number: 1, PreviousHash: root.Hash, Hash: hashFromString("b1")}
	if _, err := cc.AddBlock(ctx, b1, false); err != nil {
		t.Fatalf("add b1: %v", err)
	}

	if err := cc.RevertCurrentBlock(ctx, fs); err != nil {
		t.Fatalf("revert: %v", err)
	}

	current, err := cc.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Number != 0 {
		t.Fatalf("current number = %d, want 0 after revert", current.Number)
	}

	archived, err := fs.GetAbsoluteBlockByNumberAndHash(ctx, 1, b1.Hash)
	if err != nil {
		t.Fatalf("lookup archived: %v", err)
	}
	if archived == nil {
		t.Fatal("reverted block was not archived to the fork store")
	}
	if !archived.Fork {
		t.Fatal("archived block should have Fork=true")
	}
}

func TestChainContext_RevertCurrentBlock_RejectsGenesis(t *testing.T) {
	dal := newFakeDAL()
	cc := NewChainContext(dal, &fakeRules{}, Config{}, nil)
	ctx := context.Background()

	if _, err := cc.AddBlock(ctx, &Block{Number: 0}, false); err != nil {
		t.Fatalf("add root: %v", err)
	}
	if err := cc.RevertCurrentBlock(ctx, nil); !errors.Is(err, ErrRevertGenesis) {
		t.Fatalf("err = %v, want ErrRevertGenesis", err)
	}
}

func TestChainContext_RevertCurrentBlock_NoCurrent(t *testing.T) {
	dal := newFakeDAL()
	cc := NewChainContext(dal, &fakeRules{}, Config{}, nil)
	if err := cc.RevertCurrentBlock(context.Background(), nil); !errors.Is(err, ErrNoCurrentBlock) {
		t.Fatalf("err = %v, want ErrNoCurrentBlock", err)
	}
}

func TestNextMonetaryMass(t *testing.T) {
	prev := uint256.NewInt(1000)
	b := &Block{Dividend: uint256.NewInt(10), MembersCount: 3}
	got := nextMonetaryMass(prev, b)
	if got.Uint64() != 1030 {
		t.Fatalf("mass = %d, want 1030", got.Uint64())
	}

	noDividend := &Block{}
	if got := nextMonetaryMass(prev, noDividend); got.Uint64() != prev.Uint64() {
		t.Fatalf("mass with no dividend should carry forward unchanged, got %d", got.Uint64())
	}
}

func TestNextUDTime(t *testing.T) {
	b := &Block{Number: 1, Dividend: uint256.NewInt(5)}
	if got := nextUDTime(100, b, 86400); got != 86500 {
		t.Fatalf("udTime = %d, want 86500", got)
	}

	noDividend := &Block{Number: 1}
	if got := nextUDTime(100, noDividend, 86400); got != 100 {
		t.Fatalf("udTime with no dividend should carry forward, got %d", got)
	}

	root := &Block{Number: 0, MedianTime: 42}
	if got := nextUDTime(0, root, 86400); got != 42 {
		t.Fatalf("root udTime = %d, want block's own medianTime 42", got)
	}
}

func TestDividendSourcesFor(t *testing.T) {
	b := &Block{Dividend: uint256.NewInt(7), UnitBase: 2, Hash: hashFromString("h")}
	members := []PublicKey{"alice", "bob"}
	sources := dividendSourcesFor(b, members)
	if len(sources) != 2 {
		t.Fatalf("len(sources) = %d, want 2", len(sources))
	}
	for _, s := range sources {
		if s.Amount.Uint64() != 7 {
			t.Errorf("amount = %d, want 7", s.Amount.Uint64())
		}
		if s.Type != SourceDividend {
			t.Errorf("type = %v, want SourceDividend", s.Type)
		}
	}
}
