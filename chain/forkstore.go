package chain

import (
	"context"
	"fmt"
)

// ForkBackend persists side-chain blocks keyed by (number, hash) so the
// branch enumerator and fork-switch controller can walk and retrieve them
// without touching the canonical DAL. Implementations live outside this
// package (see the forkstore package for a goleveldb-backed one).
type ForkBackend interface {
	Put(ctx context.Context, block *Block) error
	Get(ctx context.Context, number uint64, hash Hash) (*Block, error)
	BlocksAtNumber(ctx context.Context, number uint64) ([]*Block, error)
	All(ctx context.Context) ([]*Block, error)
	MarkWrong(ctx context.Context, number uint64, hash Hash) error
	DeleteBelow(ctx context.Context, number uint64) error
}

// ForkStore is the thin wrapper the core uses over a ForkBackend. It exists
// so call sites read in terms of block semantics rather than a raw KV API.
type ForkStore struct {
	backend ForkBackend
}

// NewForkStore wraps backend for use by the core.
func NewForkStore(backend ForkBackend) *ForkStore {
	return &ForkStore{backend: backend}
}

// SaveSideBlockInFile records block as a side block.
func (fs *ForkStore) SaveSideBlockInFile(ctx context.Context, block *Block) error {
	return fs.backend.Put(ctx, block)
}

// GetAbsoluteBlockByNumberAndHash returns the side block at (number, hash),
// or nil if none is recorded.
func (fs *ForkStore) GetAbsoluteBlockByNumberAndHash(ctx context.Context, number uint64, hash Hash) (*Block, error) {
	return fs.backend.Get(ctx, number, hash)
}

// GetForkBlocks returns every side block recorded at number, in no
// particular order; callers sort or filter as needed.
func (fs *ForkStore) GetForkBlocks(ctx context.Context, number uint64) ([]*Block, error) {
	return fs.backend.BlocksAtNumber(ctx, number)
}

// AllSideBlocks returns every persisted side block, regardless of number.
// Used by the branch enumerator, which needs the full set to partition
// into forkables and others.
func (fs *ForkStore) AllSideBlocks(ctx context.Context) ([]*Block, error) {
	return fs.backend.All(ctx)
}

// MarkWrong flags the side block at (number, hash) as belonging to a
// failed fork-switch attempt, so the branch enumerator stops offering it.
func (fs *ForkStore) MarkWrong(ctx context.Context, number uint64, hash Hash) error {
	if err := fs.backend.MarkWrong(ctx, number, hash); err != nil {
		return fmt.Errorf("forkstore: mark wrong %d-%s: %w", number, hash.Hex(), err)
	}
	return nil
}

// Prune removes every side block strictly below number; blocks recorded at
// number itself are kept.
func (fs *ForkStore) Prune(ctx context.Context, number uint64) error {
	return fs.backend.DeleteBelow(ctx, number)
}
