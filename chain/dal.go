package chain

import "context"

// CheckMode selects how strictly CheckBlock validates a candidate block.
type CheckMode int

const (
	// CheckStructureOnly validates shape/ordering but skips signature and
	// proof-of-work verification (used for speculative/side-chain checks).
	CheckStructureOnly CheckMode = iota
	// CheckWithSignaturesAndPoW performs the full consensus check,
	// including signatures and proof-of-work.
	CheckWithSignaturesAndPoW
)

// DAL is the persistent data-access layer the core mutates and queries. It
// is implemented outside this module; the core only depends on this
// interface.
type DAL interface {
	GetCurrentBlockOrNull(ctx context.Context) (*Block, error)
	GetBlock(ctx context.Context, number uint64) (*Block, error)
	GetBlockOrNull(ctx context.Context, number uint64) (*Block, error)
	GetBlockByNumberAndHashOrNull(ctx context.Context, number uint64, hash Hash) (*Block, error)
	GetPromoted(ctx context.Context, number uint64) (*Block, error)
	GetBlocksBetween(ctx context.Context, from uint64, count int) ([]*Block, error)

	// SaveBlock persists a canonical block and all of its derived writes
	// (sources, memberships, certifications, links) as a single atomic
	// operation. Callers (ChainContext) have already computed the
	// derived fields; SaveBlock only persists.
	SaveBlock(ctx context.Context, block *Block, sources []Source) error
	// DeleteBlock removes the canonical block at number and all of its
	// derived writes, the inverse of SaveBlock. Used by revert.
	DeleteBlock(ctx context.Context, number uint64) error

	GetMembers(ctx context.Context) ([]PublicKey, error)
	IsMember(ctx context.Context, pubkey PublicKey) (bool, error)
	GetValidLinksTo(ctx context.Context, pubkey PublicKey) ([]Certification, error)
	LastJoinOfIdentity(ctx context.Context, pubkey PublicKey) (*Membership, error)
	GetCertificationExcludingBlock(ctx context.Context, pubkey PublicKey, excluded uint64) (*Certification, error)

	// ObsoleteExpiredLinks removes memberships and certifications whose
	// lifetimes have expired as of the given cutoffs (a membership action
	// at or before msCutoff, a certification at or before sigCutoff).
	ObsoleteExpiredLinks(ctx context.Context, msCutoff, sigCutoff int64) error

	PushStats(ctx context.Context, stats Stats) error

	SaveParametersForRootBlock(ctx context.Context, rootBlock *Block) error

	// MigrateOldBlocks performs one compaction pass over blocks old enough
	// to no longer need their full in-place representation.
	MigrateOldBlocks(ctx context.Context) error
}

// RulesEngine provides the pure consensus validators and web-of-trust
// helpers the core delegates to; implemented outside this module.
type RulesEngine interface {
	CheckBlock(ctx context.Context, block *Block, mode CheckMode) error
	GetTrialLevel(ctx context.Context, pubkey PublicKey, conf Config) (int, error)
	IsOver3Hops(ctx context.Context, pubkey PublicKey, links []Certification, newcomers []PublicKey, current *Block, conf Config) (bool, error)
}

// Config is the set of recognized tuning options from spec §6.
type Config struct {
	ForkSize    uint64  // max allowed rewind depth for side blocks
	AvgGenTime  int64   // target seconds per block
	MSValidity  int64   // membership lifetime in seconds
	SigValidity int64   // signature (certification) lifetime in seconds
	DT          int64   // seconds between dividend emissions
	PoWDelay    int64   // self-throttle after own block, in seconds
	Participate bool    // whether to run PoW

	// SwitchOnBranchAheadByMinutes is how far ahead (in minutes of
	// accumulated medianTime) a side branch must be over the current head
	// before a fork switch is attempted at all.
	SwitchOnBranchAheadByMinutes int64

	// MaxSideBlocks bounds the branch enumerator's working set per run;
	// 0 means unbounded.
	MaxSideBlocks int

	// MemoryCleanIntervalSeconds is MEMORY_CLEAN_INTERVAL, the period
	// between memory maintainer runs.
	MemoryCleanIntervalSeconds int64
}
