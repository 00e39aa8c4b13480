package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"github.com/wyvernnet/sncore/log"
)

// ChainContext owns the canonical head and drives all persistent mutation
// of it: apply, revert, and structural/consensus checks. Each mutating
// method holds the write lock for its own duration, but a sequence of them
// (such as a fork switch's reverts and re-applies) is not atomic; callers
// outside the admission pipeline must not call the mutating methods
// directly.
type ChainContext struct {
	mu    sync.RWMutex
	dal   DAL
	rules RulesEngine
	conf  Config
	log   *log.Logger
	mx    *Metrics
}

// NewChainContext builds a ChainContext over the given DAL and rules engine.
func NewChainContext(dal DAL, rules RulesEngine, conf Config, mx *Metrics) *ChainContext {
	return &ChainContext{
		dal:   dal,
		rules: rules,
		conf:  conf,
		log:   log.Default().Module("chain"),
		mx:    mx,
	}
}

// Current returns the current head, or nil if the chain is empty.
func (cc *ChainContext) Current(ctx context.Context) (*Block, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.dal.GetCurrentBlockOrNull(ctx)
}

// CheckBlock delegates to the rules engine, normalizing any failure into an
// *InvalidBlockError.
func (cc *ChainContext) CheckBlock(ctx context.Context, block *Block, mode CheckMode) error {
	if err := cc.rules.CheckBlock(ctx, block, mode); err != nil {
		if _, ok := AsInvalidBlockError(err); ok {
			return err
		}
		return NewInvalidBlockError(err.Error())
	}
	return nil
}

// AddBlock applies block as the new head. Precondition: block extends the
// current head (or is block 0 on an empty chain). All persistent mutation —
// block insertion, source/membership/certification/link updates, dividend
// emission, monetary mass and UDTime bookkeeping — happens as one DAL write
// so a failure never leaves partial state.
func (cc *ChainContext) AddBlock(ctx context.Context, block *Block, doCheck bool) (*Block, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	current, err := cc.dal.GetCurrentBlockOrNull(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: add block %d: read current: %w", block.Number, err)
	}
	if err := validateExtends(current, block); err != nil {
		return nil, err
	}
	if doCheck {
		if err := cc.CheckBlock(ctx, block, CheckWithSignaturesAndPoW); err != nil {
			return nil, err
		}
	}

	applied := block.Clone()
	applied.Fork = false
	applied.Wrong = false

	prevMass := uint256.NewInt(0)
	prevUDTime := applied.MedianTime
	if current != nil {
		if current.MonetaryMass != nil {
			prevMass = current.MonetaryMass
		}
		prevUDTime = current.UDTime
	}
	applied.MonetaryMass = nextMonetaryMass(prevMass, applied)
	applied.UDTime = nextUDTime(prevUDTime, applied, cc.conf.DT)

	sources, err := cc.dividendSources(ctx, applied)
	if err != nil {
		return nil, fmt.Errorf("chain: add block %d: dividend sources: %w", applied.Number, err)
	}

	if err := cc.dal.SaveBlock(ctx, applied, sources); err != nil {
		return nil, fmt.Errorf("chain: add block %d: %w", applied.Number, err)
	}

	if cc.mx != nil {
		cc.mx.BlocksAdmitted.Inc()
		cc.mx.ChainHeight.Set(float64(applied.Number))
		massF, _ := new(big.Float).SetInt(applied.MonetaryMass.ToBig()).Float64()
		cc.mx.MonetaryMass.Set(massF)
	}
	cc.log.Info("block applied", "number", applied.Number, "hash", applied.Hash.Hex())
	return applied, nil
}

// AddSideBlock records block on the fork store without mutating the
// canonical head. Precondition: block.PreviousHash resolves to some known
// block, main or side.
func (cc *ChainContext) AddSideBlock(ctx context.Context, fs *ForkStore, block *Block, doCheck bool) (*Block, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if err := cc.ensureKnownParent(ctx, fs, block); err != nil {
		return nil, err
	}

	if doCheck {
		if err := cc.CheckBlock(ctx, block, CheckStructureOnly); err != nil {
			return nil, err
		}
	}

	side := block.Clone()
	side.Fork = true
	side.Wrong = false

	if err := fs.SaveSideBlockInFile(ctx, side); err != nil {
		return nil, fmt.Errorf("chain: add side block %d: %w", side.Number, err)
	}
	cc.log.Info("side block recorded", "number", side.Number, "hash", side.Hash.Hex())
	return side, nil
}

// RevertCurrentBlock undoes AddBlock on the current head: the inverse
// restores all indices and sources. Precondition: the head exists and is
// not block 0. The removed block is archived on fs as a side block (with
// Fork set) so a later failed fork-switch can still walk back to it via
// getWholeForkBranch and reapply it.
func (cc *ChainContext) RevertCurrentBlock(ctx context.Context, fs *ForkStore) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	current, err := cc.dal.GetCurrentBlockOrNull(ctx)
	if err != nil {
		return fmt.Errorf("chain: revert: read current: %w", err)
	}
	if current == nil {
		return ErrNoCurrentBlock
	}
	if current.IsRoot() {
		return ErrRevertGenesis
	}

	archived := current.Clone()
	archived.Fork = true
	if fs != nil {
		if err := fs.SaveSideBlockInFile(ctx, archived); err != nil {
			return fmt.Errorf("chain: revert block %d: archive: %w", current.Number, err)
		}
	}

	if err := cc.dal.DeleteBlock(ctx, current.Number); err != nil {
		return fmt.Errorf("chain: revert block %d: %w", current.Number, err)
	}
	if cc.mx != nil {
		cc.mx.ChainHeight.Set(float64(current.Number - 1))
	}
	cc.log.Info("block reverted", "number", current.Number, "hash", current.Hash.Hex())
	return nil
}

// SaveParametersForRootBlock persists currency parameters carried by block 0.
func (cc *ChainContext) SaveParametersForRootBlock(ctx context.Context, root *Block) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if !root.IsRoot() {
		return fmt.Errorf("chain: save root parameters: block %d is not the root", root.Number)
	}
	return cc.dal.SaveParametersForRootBlock(ctx, root)
}

// validateExtends enforces AddBlock's extends-the-head precondition.
func validateExtends(current, block *Block) error {
	if current == nil {
		if block.Number != 0 {
			return fmt.Errorf("%w: expected root block 0, got %d", ErrUnknownParent, block.Number)
		}
		return nil
	}
	if block.Number != current.Number+1 || block.PreviousHash != current.Hash {
		return fmt.Errorf("%w: block %d does not extend head %d", ErrUnknownParent, block.Number, current.Number)
	}
	return nil
}

// ensureKnownParent checks that block's parent is known among canonical or
// side blocks, per AddSideBlock's precondition.
func (cc *ChainContext) ensureKnownParent(ctx context.Context, fs *ForkStore, block *Block) error {
	if block.Number > 0 {
		if p, err := cc.dal.GetBlockByNumberAndHashOrNull(ctx, block.Number-1, block.PreviousHash); err == nil && p != nil {
			return nil
		}
		if p, err := fs.GetAbsoluteBlockByNumberAndHash(ctx, block.Number-1, block.PreviousHash); err == nil && p != nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %d-%s", ErrUnknownParent, block.Number-1, block.PreviousHash.Hex())
}

// nextMonetaryMass accumulates the dividend this block emits, amount per
// member, onto the previous head's monetary mass.
func nextMonetaryMass(prev *uint256.Int, b *Block) *uint256.Int {
	if b.Dividend == nil || b.Dividend.IsZero() {
		return new(uint256.Int).Set(prev)
	}
	emitted := new(uint256.Int).Mul(b.Dividend, uint256.NewInt(uint64(b.MembersCount)))
	return new(uint256.Int).Add(prev, emitted)
}

// nextUDTime advances the dividend clock by dt whenever this block emits
// one, and otherwise carries it forward unchanged.
func nextUDTime(prevUDTime int64, b *Block, dt int64) int64 {
	if b.Number == 0 {
		return b.MedianTime
	}
	if b.Dividend != nil && !b.Dividend.IsZero() {
		return prevUDTime + dt
	}
	return prevUDTime
}

// dividendSources builds the one-source-per-member set for a UD-emitting
// block.
func (cc *ChainContext) dividendSources(ctx context.Context, b *Block) ([]Source, error) {
	if b.Dividend == nil || b.Dividend.IsZero() {
		return nil, nil
	}
	members, err := cc.dal.GetMembers(ctx)
	if err != nil {
		return nil, err
	}
	return dividendSourcesFor(b, members), nil
}

// dividendSourcesFor is the pure half of dividendSources, split out for
// reuse by the bulk bookkeeper.
func dividendSourcesFor(b *Block, members []PublicKey) []Source {
	sources := make([]Source, 0, len(members))
	for _, m := range members {
		sources = append(sources, Source{
			Pubkey:     m,
			Type:       SourceDividend,
			Amount:     new(uint256.Int).Set(b.Dividend),
			Base:       b.UnitBase,
			Conditions: fmt.Sprintf("SIG(%s)", m),
			Consumed:   false,
			Identifier: b.Hash,
		})
	}
	return sources
}
