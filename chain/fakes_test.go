package chain

import (
	"context"
	"fmt"
	"sync"
)

// fakeDAL is a minimal in-memory chain.DAL for unit tests. It intentionally
// skips the indexing fakeDAL doesn't need to exercise (stats history is
// collected but never asserted on, for instance).
type fakeDAL struct {
	mu      sync.Mutex
	blocks  map[uint64]*Block
	current uint64
	hasAny  bool

	members map[PublicKey]bool
	links   map[PublicKey][]Certification
	stats   []Stats

	rootSaved *Block
}

func newFakeDAL() *fakeDAL {
	return &fakeDAL{
		blocks:  make(map[uint64]*Block),
		members: make(map[PublicKey]bool),
		links:   make(map[PublicKey][]Certification),
	}
}

func (f *fakeDAL) GetCurrentBlockOrNull(ctx context.Context) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasAny {
		return nil, nil
	}
	return f.blocks[f.current].Clone(), nil
}

func (f *fakeDAL) GetBlock(ctx context.Context, number uint64) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[number]
	if !ok {
		return nil, fmt.Errorf("fakeDAL: block %d not found", number)
	}
	return b.Clone(), nil
}

func (f *fakeDAL) GetBlockOrNull(ctx context.Context, number uint64) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[number]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (f *fakeDAL) GetBlockByNumberAndHashOrNull(ctx context.Context, number uint64, hash Hash) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[number]
	if !ok || b.Hash != hash {
		return nil, nil
	}
	return b.Clone(), nil
}

func (f *fakeDAL) GetPromoted(ctx context.Context, number uint64) (*Block, error) {
	return f.GetBlockOrNull(ctx, number)
}

func (f *fakeDAL) GetBlocksBetween(ctx context.Context, from uint64, count int) ([]*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Block
	for n := from; n < from+uint64(count); n++ {
		b, ok := f.blocks[n]
		if !ok {
			break
		}
		out = append(out, b.Clone())
	}
	return out, nil
}

func (f *fakeDAL) SaveBlock(ctx context.Context, block *Block, sources []Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[block.Number] = block.Clone()
	if !f.hasAny || block.Number > f.current {
		f.current = block.Number
		f.hasAny = true
	}
	for _, pk := range block.Joiners {
		f.members[pk] = true
	}
	for _, pk := range block.Leavers {
		f.members[pk] = false
	}
	for _, c := range block.Certifications {
		c.Number = block.Number
		f.links[c.Receiver] = append(f.links[c.Receiver], c)
	}
	return nil
}

func (f *fakeDAL) DeleteBlock(ctx context.Context, number uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocks, number)
	if f.hasAny && number == f.current {
		f.current = number - 1
	}
	return nil
}

func (f *fakeDAL) GetMembers(ctx context.Context) ([]PublicKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PublicKey
	for pk, ok := range f.members {
		if ok {
			out = append(out, pk)
		}
	}
	return out, nil
}

func (f *fakeDAL) IsMember(ctx context.Context, pubkey PublicKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[pubkey], nil
}

func (f *fakeDAL) GetValidLinksTo(ctx context.Context, pubkey PublicKey) ([]Certification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Certification(nil), f.links[pubkey]...), nil
}

func (f *fakeDAL) LastJoinOfIdentity(ctx context.Context, pubkey PublicKey) (*Membership, error) {
	return nil, nil
}

func (f *fakeDAL) GetCertificationExcludingBlock(ctx context.Context, pubkey PublicKey, excluded uint64) (*Certification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.links[pubkey] {
		if c.Number != excluded {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDAL) ObsoleteExpiredLinks(ctx context.Context, msCutoff, sigCutoff int64) error {
	return nil
}

func (f *fakeDAL) PushStats(ctx context.Context, stats Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, stats)
	return nil
}

func (f *fakeDAL) SaveParametersForRootBlock(ctx context.Context, rootBlock *Block) error {
	f.rootSaved = rootBlock.Clone()
	return nil
}

func (f *fakeDAL) MigrateOldBlocks(ctx context.Context) error { return nil }

// fakeRules is a permissive chain.RulesEngine for tests that do not
// exercise rejection paths explicitly.
type fakeRules struct {
	checkErr      error
	trialLevel    int
	overDistanced bool
}

func (r *fakeRules) CheckBlock(ctx context.Context, block *Block, mode CheckMode) error {
	return r.checkErr
}

func (r *fakeRules) GetTrialLevel(ctx context.Context, pubkey PublicKey, conf Config) (int, error) {
	return r.trialLevel, nil
}

func (r *fakeRules) IsOver3Hops(ctx context.Context, pubkey PublicKey, links []Certification, newcomers []PublicKey, current *Block, conf Config) (bool, error) {
	return r.overDistanced, nil
}

// fakeForkBackend is an in-memory chain.ForkBackend for tests.
type fakeForkBackend struct {
	mu     sync.Mutex
	blocks map[string]*Block
}

func newFakeForkBackend() *fakeForkBackend {
	return &fakeForkBackend{blocks: make(map[string]*Block)}
}

func forkKey(number uint64, hash Hash) string { return fmt.Sprintf("%d-%s", number, hash.Hex()) }

func (b *fakeForkBackend) Put(ctx context.Context, block *Block) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocks[forkKey(block.Number, block.Hash)] = block.Clone()
	return nil
}

func (b *fakeForkBackend) Get(ctx context.Context, number uint64, hash Hash) (*Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blk, ok := b.blocks[forkKey(number, hash)]
	if !ok {
		return nil, nil
	}
	return blk.Clone(), nil
}

func (b *fakeForkBackend) BlocksAtNumber(ctx context.Context, number uint64) ([]*Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Block
	for _, blk := range b.blocks {
		if blk.Number == number {
			out = append(out, blk.Clone())
		}
	}
	return out, nil
}

func (b *fakeForkBackend) All(ctx context.Context) ([]*Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Block, 0, len(b.blocks))
	for _, blk := range b.blocks {
		out = append(out, blk.Clone())
	}
	return out, nil
}

func (b *fakeForkBackend) MarkWrong(ctx context.Context, number uint64, hash Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	blk, ok := b.blocks[forkKey(number, hash)]
	if !ok {
		return fmt.Errorf("fakeForkBackend: %d-%s not found", number, hash.Hex())
	}
	blk.Wrong = true
	return nil
}

func (b *fakeForkBackend) DeleteBelow(ctx context.Context, number uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, blk := range b.blocks {
		if blk.Number < number {
			delete(b.blocks, k)
		}
	}
	return nil
}

// fakeGenerator is a minimal chain.Generator for tests.
type fakeGenerator struct {
	dal *fakeDAL
}

func (g *fakeGenerator) ManualRoot(ctx context.Context) (*Block, error) {
	return &Block{Number: 0, PowMin: 1}, nil
}

func (g *fakeGenerator) NextBlock(ctx context.Context) (*Block, error) {
	current, _ := g.dal.GetCurrentBlockOrNull(ctx)
	if current == nil {
		return nil, fmt.Errorf("fakeGenerator: no root yet")
	}
	return &Block{Number: current.Number + 1, PreviousHash: current.Hash, PowMin: current.PowMin}, nil
}

func (g *fakeGenerator) NextEmptyBlock(ctx context.Context) (*Block, error) {
	return g.NextBlock(ctx)
}

func (g *fakeGenerator) MakeNextBlock(ctx context.Context, candidate *Block, trial int) (*Block, error) {
	out := candidate.Clone()
	var h Hash
	copy(h[:], fmt.Sprintf("block-%d", out.Number))
	out.Hash = h
	return out, nil
}

func (g *fakeGenerator) GetSinglePreJoinData(ctx context.Context, pubkey PublicKey) (*PreJoinData, error) {
	return &PreJoinData{Pubkey: pubkey, CurrentMSN: -1}, nil
}

func (g *fakeGenerator) ComputeNewCerts(ctx context.Context, current *Block, pending []PreJoinData) ([]Certification, error) {
	return nil, nil
}

func (g *fakeGenerator) NewCertsToLinks(ctx context.Context, certs []Certification) ([]Certification, error) {
	return certs, nil
}

func hashFromString(s string) Hash {
	var h Hash
	copy(h[:], s)
	return h
}
