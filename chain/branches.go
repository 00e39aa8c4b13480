package chain

import (
	"context"
	"fmt"
	"sort"

	"github.com/wyvernnet/sncore/log"
)

// branch is a contiguous run of side blocks, ordered ascending by number,
// anchored on the canonical chain at branch[0].
type branch []*Block

func (b branch) tip() *Block { return b[len(b)-1] }

// BranchEnumerator computes the set of longest side-branches anchored on
// the canonical chain, from the side blocks recorded in a ForkStore.
type BranchEnumerator struct {
	dal  DAL
	fs   *ForkStore
	conf Config
	log  *log.Logger
}

// NewBranchEnumerator builds an enumerator over fs, resolving anchors
// against dal.
func NewBranchEnumerator(dal DAL, fs *ForkStore, conf Config) *BranchEnumerator {
	return &BranchEnumerator{dal: dal, fs: fs, conf: conf, log: log.Default().Module("branches")}
}

// Branches returns the tip of each longest side-branch, concatenated with
// current (or without it, if the chain is empty).
func (be *BranchEnumerator) Branches(ctx context.Context, current *Block) ([]*Block, error) {
	longest, err := be.longestBranches(ctx)
	if err != nil {
		return nil, err
	}
	tips := make([]*Block, 0, len(longest)+1)
	for _, b := range longest {
		tips = append(tips, b.tip())
	}
	if current != nil {
		tips = append(tips, current)
	}
	return tips, nil
}

// longestBranches runs the enumeration algorithm: load every side block,
// partition into forkables and others, seed one branch per forkable, then
// repeatedly try to attach each other block by extension or split.
func (be *BranchEnumerator) longestBranches(ctx context.Context) ([]branch, error) {
	all, err := be.allSideBlocks(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Number < all[j].Number })
	if be.conf.MaxSideBlocks > 0 && len(all) > be.conf.MaxSideBlocks {
		be.log.Warn("side block set exceeds bound, truncating",
			"total", len(all), "max", be.conf.MaxSideBlocks)
		all = all[:be.conf.MaxSideBlocks]
	}

	var forkables, others []*Block
	for _, blk := range all {
		anchored, err := be.isForkable(ctx, blk)
		if err != nil {
			return nil, err
		}
		if anchored {
			forkables = append(forkables, blk)
		} else {
			others = append(others, blk)
		}
	}

	branches := make([]branch, 0, len(forkables))
	for _, f := range forkables {
		branches = append(branches, branch{f})
	}

	for _, o := range others {
		var pending []branch
		for i, b := range branches {
			tip := b.tip()
			if o.Number == tip.Number+1 && o.PreviousHash == tip.Hash {
				branches[i] = append(b, o)
				continue
			}
			if len(b) < 2 {
				continue
			}
			d := int(o.Number - b[0].Number)
			if d < 1 || d-1 >= len(b) || d-1 < 0 {
				continue
			}
			if b[d-1].Hash != o.PreviousHash {
				continue
			}
			dup := make(branch, d, d+1)
			copy(dup, b[:d])
			dup = append(dup, o)
			pending = append(pending, dup)
		}
		branches = append(branches, pending...)
	}

	maxLen := 0
	for _, b := range branches {
		if len(b) > maxLen {
			maxLen = len(b)
		}
	}
	longest := make([]branch, 0)
	for _, b := range branches {
		if len(b) == maxLen && maxLen > 0 {
			longest = append(longest, b)
		}
	}
	return longest, nil
}

// allSideBlocks loads every recorded side block, excluding any already
// marked Wrong by a failed fork-switch rollback — those must never be
// re-seeded as a branch, or the enumerator hands them right back out.
func (be *BranchEnumerator) allSideBlocks(ctx context.Context) ([]*Block, error) {
	all, err := be.fs.AllSideBlocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("branches: load side blocks: %w", err)
	}
	filtered := all[:0]
	for _, blk := range all {
		if blk.Wrong {
			continue
		}
		filtered = append(filtered, blk)
	}
	return filtered, nil
}

// isForkable reports whether blk's immediate predecessor is canonical.
func (be *BranchEnumerator) isForkable(ctx context.Context, blk *Block) (bool, error) {
	if blk.Number == 0 {
		return true, nil
	}
	parent, err := be.dal.GetBlockByNumberAndHashOrNull(ctx, blk.Number-1, blk.PreviousHash)
	if err != nil {
		return false, fmt.Errorf("branches: resolve anchor for %s: %w", blk.NumberAndHash(), err)
	}
	return parent != nil, nil
}
