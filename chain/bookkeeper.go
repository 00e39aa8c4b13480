package chain

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/wyvernnet/sncore/log"
)

// Bookkeeper bulk-applies a contiguous main-chain segment: dividend
// emission, monetary mass, and statistics, typically used for initial
// sync where per-block admission overhead is unwanted.
type Bookkeeper struct {
	dal  DAL
	cc   *ChainContext
	conf Config
	mx   *Metrics
	log  *log.Logger
}

// NewBookkeeper builds a Bookkeeper over dal and cc.
func NewBookkeeper(dal DAL, cc *ChainContext, conf Config, mx *Metrics) *Bookkeeper {
	return &Bookkeeper{dal: dal, cc: cc, conf: conf, mx: mx, log: log.Default().Module("bookkeeper")}
}

// SaveBlocksInMainBranch applies a contiguous ascending segment to the
// main chain in one pass. targetLastNumber is informational context for
// logging progress against a known sync target; it does not affect the
// blocks actually applied.
func (bk *Bookkeeper) SaveBlocksInMainBranch(ctx context.Context, blocks []*Block, targetLastNumber uint64) error {
	if len(blocks) == 0 {
		return nil
	}
	if err := validateContiguous(blocks); err != nil {
		return err
	}

	if blocks[0].Number == 0 {
		if err := bk.cc.SaveParametersForRootBlock(ctx, blocks[0]); err != nil {
			return fmt.Errorf("bookkeeper: save root parameters: %w", err)
		}
	}

	prevMass := uint256.NewInt(0)
	prevUDTime := blocks[0].MedianTime
	if blocks[0].Number > 0 {
		predecessor, err := bk.dal.GetBlockOrNull(ctx, blocks[0].Number-1)
		if err != nil {
			return fmt.Errorf("bookkeeper: read predecessor of %d: %w", blocks[0].Number, err)
		}
		if predecessor == nil {
			return fmt.Errorf("%w: no predecessor for segment starting at %d", ErrDiscontinuousChain, blocks[0].Number)
		}
		if predecessor.MonetaryMass != nil {
			prevMass = predecessor.MonetaryMass
		}
		prevUDTime = predecessor.UDTime
	}

	stats := newStats()

	for _, raw := range blocks {
		applied := raw.Clone()
		applied.Fork = false
		applied.MonetaryMass = nextMonetaryMass(prevMass, applied)
		applied.UDTime = nextUDTime(prevUDTime, applied, bk.conf.DT)

		var sources []Source
		if applied.Dividend != nil && !applied.Dividend.IsZero() {
			members, err := bk.dal.GetMembers(ctx)
			if err != nil {
				return fmt.Errorf("bookkeeper: load members for dividend at %d: %w", applied.Number, err)
			}
			sources = dividendSourcesFor(applied, members)
		}

		if err := bk.dal.SaveBlock(ctx, applied, sources); err != nil {
			return fmt.Errorf("bookkeeper: save block %d: %w", applied.Number, err)
		}

		recordBlockStats(&stats, applied)
		prevMass = applied.MonetaryMass
		prevUDTime = applied.UDTime

		if bk.mx != nil {
			bk.mx.BlocksAdmitted.Inc()
			bk.mx.ChainHeight.Set(float64(applied.Number))
		}
	}

	if err := bk.dal.PushStats(ctx, stats); err != nil {
		return fmt.Errorf("bookkeeper: push stats: %w", err)
	}

	bk.log.Info("main branch segment applied",
		"from", blocks[0].Number, "to", blocks[len(blocks)-1].Number, "target", targetLastNumber)
	return nil
}

// ObsoleteInMainBranch expires memberships and certifications that have
// fallen outside their validity windows as of current, delegating the
// storage-level removal to the DAL.
func (bk *Bookkeeper) ObsoleteInMainBranch(ctx context.Context, current *Block) error {
	if current == nil {
		return nil
	}
	msCutoff := current.MedianTime - bk.conf.MSValidity
	sigCutoff := current.MedianTime - bk.conf.SigValidity
	if err := bk.dal.ObsoleteExpiredLinks(ctx, msCutoff, sigCutoff); err != nil {
		return fmt.Errorf("bookkeeper: obsolete expired links: %w", err)
	}
	return nil
}

func validateContiguous(blocks []*Block) error {
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Number != blocks[i-1].Number+1 || blocks[i].PreviousHash != blocks[i-1].Hash {
			return fmt.Errorf("%w: block %d does not follow block %d", ErrDiscontinuousChain, blocks[i].Number, blocks[i-1].Number)
		}
	}
	return nil
}
