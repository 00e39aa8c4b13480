package memdal

import (
	"context"

	"github.com/wyvernnet/sncore/chain"
)

// Rules is a permissive, in-memory chain.RulesEngine for standalone/dev-mode
// operation. It performs the structural checks a dev loop needs (previous
// hash linkage) but not signature or web-of-trust computation, which belong
// to the external rules engine a production deployment wires in instead.
type Rules struct {
	store *Store
}

// NewRules returns a Rules backed by store, used to resolve parent blocks
// during CheckBlock.
func NewRules(store *Store) *Rules {
	return &Rules{store: store}
}

func (r *Rules) CheckBlock(ctx context.Context, block *chain.Block, mode chain.CheckMode) error {
	if block.IsRoot() {
		return nil
	}
	parent, err := r.store.GetBlockOrNull(ctx, block.Number-1)
	if err != nil {
		return err
	}
	if parent != nil && parent.Hash != block.PreviousHash {
		return chain.NewInvalidBlockError("previousHash does not match the block it claims to follow")
	}
	return nil
}

// GetTrialLevel returns the parent block's own difficulty unchanged; a real
// rules engine recomputes this from the recent block-time distribution.
func (r *Rules) GetTrialLevel(ctx context.Context, pubkey chain.PublicKey, conf chain.Config) (int, error) {
	current, err := r.store.GetCurrentBlockOrNull(ctx)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return 0, nil
	}
	return current.PowMin, nil
}

// IsOver3Hops always reports false: distance-rule computation needs the
// full certification graph a production rules engine maintains, which this
// in-memory store does not attempt to replicate.
func (r *Rules) IsOver3Hops(ctx context.Context, pubkey chain.PublicKey, links []chain.Certification, newcomers []chain.PublicKey, current *chain.Block, conf chain.Config) (bool, error) {
	return false, nil
}
