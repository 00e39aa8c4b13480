package memdal

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/wyvernnet/sncore/chain"
)

// Generator is an in-memory chain.Generator for standalone/dev-mode
// operation: it builds empty candidate blocks extending the current head
// with no pending-transaction pool, and "proves" them immediately rather
// than running real proof-of-work. Production deployments wire in the
// external generator that pools identities, certifications and
// transactions and performs real PoW.
type Generator struct {
	store *Store
}

// NewGenerator returns a Generator backed by store.
func NewGenerator(store *Store) *Generator {
	return &Generator{store: store}
}

func (g *Generator) ManualRoot(ctx context.Context) (*chain.Block, error) {
	current, err := g.store.GetCurrentBlockOrNull(ctx)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("memdal: root block already exists at height %d", current.Number)
	}
	return &chain.Block{
		Number:       0,
		MedianTime:   0,
		PowMin:       1,
		UnitBase:     0,
		MembersCount: 0,
		MonetaryMass: new(uint256.Int),
	}, nil
}

func (g *Generator) NextBlock(ctx context.Context) (*chain.Block, error) {
	return g.nextCandidate(ctx)
}

func (g *Generator) NextEmptyBlock(ctx context.Context) (*chain.Block, error) {
	return g.nextCandidate(ctx)
}

func (g *Generator) nextCandidate(ctx context.Context) (*chain.Block, error) {
	current, err := g.store.GetCurrentBlockOrNull(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("memdal: no root block yet")
	}
	return &chain.Block{
		Number:       current.Number + 1,
		PreviousHash: current.Hash,
		MedianTime:   current.MedianTime + 1,
		PowMin:       current.PowMin,
		UnitBase:     current.UnitBase,
		MembersCount: current.MembersCount,
	}, nil
}

// MakeNextBlock assigns candidate a deterministic placeholder hash derived
// from its number and previous hash; there is no real proof-of-work to run
// in dev mode.
func (g *Generator) MakeNextBlock(ctx context.Context, candidate *chain.Block, trial int) (*chain.Block, error) {
	out := candidate.Clone()
	out.Hash = placeholderHash(out)
	return out, nil
}

func placeholderHash(b *chain.Block) chain.Hash {
	var h chain.Hash
	seed := fmt.Sprintf("%d-%s-%d", b.Number, b.PreviousHash.Hex(), b.MedianTime)
	copy(h[:], seed)
	return h
}

func (g *Generator) GetSinglePreJoinData(ctx context.Context, pubkey chain.PublicKey) (*chain.PreJoinData, error) {
	wasMember, err := g.store.IsMember(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	currentMSN := int64(-1)
	if m, err := g.store.LastJoinOfIdentity(ctx, pubkey); err == nil && m != nil {
		currentMSN = int64(m.Number)
	}
	return &chain.PreJoinData{
		Pubkey:     pubkey,
		WasMember:  wasMember,
		CurrentMSN: currentMSN,
	}, nil
}

// ComputeNewCerts returns no provisional certifications: there is no
// pending-certification pool in dev mode.
func (g *Generator) ComputeNewCerts(ctx context.Context, current *chain.Block, pending []chain.PreJoinData) ([]chain.Certification, error) {
	return nil, nil
}

// NewCertsToLinks returns certs unchanged; no further resolution is needed
// without a pending pool.
func (g *Generator) NewCertsToLinks(ctx context.Context, certs []chain.Certification) ([]chain.Certification, error) {
	return certs, nil
}
