// Package memdal is an in-memory implementation of chain.DAL,
// chain.RulesEngine and chain.Generator, intended for the sncored CLI's
// standalone/dev-mode operation and for exercising the core without a real
// relational or embedded-storage backend wired up. It is not a production
// persistence layer, the same way an in-memory reference key-value store
// backs tests and light clients rather than a full node's canonical store.
package memdal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wyvernnet/sncore/chain"
)

// Store is a single-process, mutex-guarded implementation of chain.DAL.
type Store struct {
	mu sync.RWMutex

	blocks  map[uint64]*chain.Block
	current uint64
	hasAny  bool

	members     map[chain.PublicKey]bool
	memberships map[chain.PublicKey]*chain.Membership
	links       map[chain.PublicKey][]chain.Certification

	stats []chain.Stats
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		blocks:      make(map[uint64]*chain.Block),
		members:     make(map[chain.PublicKey]bool),
		memberships: make(map[chain.PublicKey]*chain.Membership),
		links:       make(map[chain.PublicKey][]chain.Certification),
	}
}

func (s *Store) GetCurrentBlockOrNull(ctx context.Context) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasAny {
		return nil, nil
	}
	return s.blocks[s.current].Clone(), nil
}

func (s *Store) GetBlock(ctx context.Context, number uint64) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[number]
	if !ok {
		return nil, fmt.Errorf("memdal: block %d not found", number)
	}
	return b.Clone(), nil
}

func (s *Store) GetBlockOrNull(ctx context.Context, number uint64) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[number]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (s *Store) GetBlockByNumberAndHashOrNull(ctx context.Context, number uint64, hash chain.Hash) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[number]
	if !ok || b.Hash != hash {
		return nil, nil
	}
	return b.Clone(), nil
}

func (s *Store) GetPromoted(ctx context.Context, number uint64) (*chain.Block, error) {
	return s.GetBlockOrNull(ctx, number)
}

func (s *Store) GetBlocksBetween(ctx context.Context, from uint64, count int) ([]*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*chain.Block, 0, count)
	for n := from; n < from+uint64(count); n++ {
		b, ok := s.blocks[n]
		if !ok {
			break
		}
		out = append(out, b.Clone())
	}
	return out, nil
}

func (s *Store) SaveBlock(ctx context.Context, block *chain.Block, sources []chain.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.Number] = block.Clone()
	if !s.hasAny || block.Number > s.current {
		s.current = block.Number
		s.hasAny = true
	}
	s.applyMembershipsAndCerts(block)
	return nil
}

func (s *Store) DeleteBlock(ctx context.Context, number uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, number)
	if s.hasAny && number == s.current {
		s.current = number - 1
	}
	return nil
}

// applyMembershipsAndCerts folds a freshly-saved block's joiners/leavers and
// certifications into the membership/link indexes. Caller holds s.mu.
func (s *Store) applyMembershipsAndCerts(block *chain.Block) {
	for _, pk := range block.Joiners {
		s.members[pk] = true
		s.memberships[pk] = &chain.Membership{
			Pubkey: pk, Type: chain.MembershipJoin,
			Number: block.Number, Hash: block.Hash, MedianTime: block.MedianTime,
		}
	}
	for _, pk := range block.Actives {
		s.memberships[pk] = &chain.Membership{
			Pubkey: pk, Type: chain.MembershipActive,
			Number: block.Number, Hash: block.Hash, MedianTime: block.MedianTime,
		}
	}
	for _, pk := range block.Leavers {
		s.members[pk] = false
		s.memberships[pk] = &chain.Membership{
			Pubkey: pk, Type: chain.MembershipLeave,
			Number: block.Number, Hash: block.Hash, MedianTime: block.MedianTime,
		}
	}
	for _, pk := range block.Excluded {
		s.members[pk] = false
	}
	for _, c := range block.Certifications {
		c.Number = block.Number
		c.Timestamp = block.MedianTime
		s.links[c.Receiver] = append(s.links[c.Receiver], c)
	}
}

func (s *Store) GetMembers(ctx context.Context) ([]chain.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chain.PublicKey, 0, len(s.members))
	for pk, ok := range s.members {
		if ok {
			out = append(out, pk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) IsMember(ctx context.Context, pubkey chain.PublicKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[pubkey], nil
}

func (s *Store) GetValidLinksTo(ctx context.Context, pubkey chain.PublicKey) ([]chain.Certification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chain.Certification, len(s.links[pubkey]))
	copy(out, s.links[pubkey])
	return out, nil
}

func (s *Store) LastJoinOfIdentity(ctx context.Context, pubkey chain.PublicKey) (*chain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[pubkey]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetCertificationExcludingBlock(ctx context.Context, pubkey chain.PublicKey, excluded uint64) (*chain.Certification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.links[pubkey] {
		if c.Number != excluded {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ObsoleteExpiredLinks(ctx context.Context, msCutoff, sigCutoff int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pk, m := range s.memberships {
		if m.MedianTime <= msCutoff {
			delete(s.memberships, pk)
			s.members[pk] = false
		}
	}
	for pk, certs := range s.links {
		kept := certs[:0]
		for _, c := range certs {
			if c.Timestamp > sigCutoff {
				kept = append(kept, c)
			}
		}
		s.links[pk] = kept
	}
	return nil
}

func (s *Store) PushStats(ctx context.Context, stats chain.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, stats)
	return nil
}

func (s *Store) SaveParametersForRootBlock(ctx context.Context, rootBlock *chain.Block) error {
	return nil
}

func (s *Store) MigrateOldBlocks(ctx context.Context) error {
	return nil
}
