package chain

import (
	"context"
	"testing"
	"time"
)

func TestProverController_NotParticipating(t *testing.T) {
	dal := newFakeDAL()
	pc := NewProverController(dal, &fakeRules{}, &fakeGenerator{dal: dal}, Config{Participate: false}, "alice", nil)

	_, reason, err := pc.StartGeneration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != ReasonNotParticipating {
		t.Fatalf("reason = %q, want %q", reason, ReasonNotParticipating)
	}
}

func TestProverController_NoSelfPubkey(t *testing.T) {
	dal := newFakeDAL()
	pc := NewProverController(dal, &fakeRules{}, &fakeGenerator{dal: dal}, Config{Participate: true}, "", nil)

	_, reason, err := pc.StartGeneration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != ReasonNoSelfPubkey {
		t.Fatalf("reason = %q, want %q", reason, ReasonNoSelfPubkey)
	}
}

func TestProverController_WaitingForRoot(t *testing.T) {
	dal := newFakeDAL()
	pc := NewProverController(dal, &fakeRules{}, &fakeGenerator{dal: dal}, Config{Participate: true}, "alice", nil)

	_, reason, err := pc.StartGeneration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != ReasonWaitingForRoot {
		t.Fatalf("reason = %q, want %q", reason, ReasonWaitingForRoot)
	}
}

func TestProverController_NotMember(t *testing.T) {
	ctx := context.Background()
	dal := newFakeDAL()
	if err := dal.SaveBlock(ctx, &Block{Number: 0, PowMin: 1}, nil); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	pc := NewProverController(dal, &fakeRules{}, &fakeGenerator{dal: dal}, Config{Participate: true}, "alice", nil)

	_, reason, err := pc.StartGeneration(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != ReasonNotMember {
		t.Fatalf("reason = %q, want %q", reason, ReasonNotMember)
	}
}

func TestProverController_DifficultyTooHigh(t *testing.T) {
	ctx := context.Background()
	dal := newFakeDAL()
	if err := dal.SaveBlock(ctx, &Block{Number: 0, PowMin: 1, Joiners: []PublicKey{"alice"}}, nil); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	pc := NewProverController(dal, &fakeRules{trialLevel: 10}, &fakeGenerator{dal: dal}, Config{Participate: true}, "alice", nil)

	_, reason, err := pc.StartGeneration(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != ReasonDifficultyTooHigh {
		t.Fatalf("reason = %q, want %q", reason, ReasonDifficultyTooHigh)
	}
}

func TestProverController_SuccessfulGeneration(t *testing.T) {
	ctx := context.Background()
	dal := newFakeDAL()
	if err := dal.SaveBlock(ctx, &Block{Number: 0, PowMin: 1, Joiners: []PublicKey{"alice"}}, nil); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	pc := NewProverController(dal, &fakeRules{trialLevel: 1}, &fakeGenerator{dal: dal}, Config{Participate: true}, "alice", nil)

	block, reason, err := pc.StartGeneration(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != ReasonNone {
		t.Fatalf("reason = %q, want %q", reason, ReasonNone)
	}
	if block == nil || block.Number != 1 {
		t.Fatalf("block = %+v, want number 1", block)
	}
	if pc.Computing() {
		t.Fatal("Computing() should be false once generation returns")
	}
}

func TestProverController_SelfThrottleCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	dal := newFakeDAL()
	if err := dal.SaveBlock(context.Background(), &Block{Number: 0, PowMin: 1, Issuer: "alice", Joiners: []PublicKey{"alice"}}, nil); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	pc := NewProverController(dal, &fakeRules{}, &fakeGenerator{dal: dal}, Config{Participate: true, PoWDelay: 5}, "alice", nil)

	_, reason, err := pc.StartGeneration(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != ReasonCanceled {
		t.Fatalf("reason = %q, want %q", reason, ReasonCanceled)
	}
}

func TestProverController_CancelIsSafeWhenIdle(t *testing.T) {
	dal := newFakeDAL()
	pc := NewProverController(dal, &fakeRules{}, &fakeGenerator{dal: dal}, Config{}, "alice", nil)
	pc.Cancel()
	if pc.Computing() {
		t.Fatal("Computing() should be false")
	}
}

// emptyCountingGenerator counts NextEmptyBlock calls so a test can tell
// which candidate path StartGeneration took.
type emptyCountingGenerator struct {
	*fakeGenerator
	emptyCalls int
}

func (g *emptyCountingGenerator) NextEmptyBlock(ctx context.Context) (*Block, error) {
	g.emptyCalls++
	return g.fakeGenerator.NextEmptyBlock(ctx)
}

func TestProverController_MarkWrongUsesEmptyCandidate(t *testing.T) {
	ctx := context.Background()
	dal := newFakeDAL()
	if err := dal.SaveBlock(ctx, &Block{Number: 0, PowMin: 1, Joiners: []PublicKey{"alice"}}, nil); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	gen := &emptyCountingGenerator{fakeGenerator: &fakeGenerator{dal: dal}}
	pc := NewProverController(dal, &fakeRules{}, gen, Config{Participate: true}, "alice", nil)
	pc.MarkWrong()

	block, reason, err := pc.StartGeneration(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != ReasonNone || block == nil {
		t.Fatalf("reason = %q, block = %+v, want a successful empty-candidate build", reason, block)
	}
	if gen.emptyCalls != 1 {
		t.Fatalf("NextEmptyBlock calls = %d, want 1 after MarkWrong", gen.emptyCalls)
	}
}
