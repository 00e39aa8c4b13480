package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/wyvernnet/sncore/log"
)

// Core is the facade composing every component into the public operation
// set a server process wires up once and drives thereafter.
type Core struct {
	dal DAL
	gen Generator

	conf Config
	mx   *Metrics
	log  *log.Logger

	cc           *ChainContext
	fs           *ForkStore
	be           *BranchEnumerator
	fsc          *ForkSwitchController
	pipeline     *Pipeline
	bookkeeper   *Bookkeeper
	requirements *RequirementsEvaluator
	prover       *ProverController
	memory       *MemoryMaintainer
}

// NewCore wires a Core over its external collaborators (dal, rules, gen)
// and its own fork-store backend. mx may be nil to disable metrics;
// selfPubkey may be empty if this node does not generate blocks.
func NewCore(dal DAL, rules RulesEngine, gen Generator, forkBackend ForkBackend, conf Config, selfPubkey PublicKey, mx *Metrics) *Core {
	fs := NewForkStore(forkBackend)
	cc := NewChainContext(dal, rules, conf, mx)
	be := NewBranchEnumerator(dal, fs, conf)
	prover := NewProverController(dal, rules, gen, conf, selfPubkey, mx)
	fsc := NewForkSwitchController(cc, fs, be, conf, mx, prover)
	pipeline := NewPipeline(cc, fs, fsc, conf, mx)

	interval := time.Duration(conf.MemoryCleanIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	return &Core{
		dal: dal, gen: gen, conf: conf, mx: mx,
		log:          log.Default().Module("core"),
		cc:           cc,
		fs:           fs,
		be:           be,
		fsc:          fsc,
		pipeline:     pipeline,
		bookkeeper:   NewBookkeeper(dal, cc, conf, mx),
		requirements: NewRequirementsEvaluator(dal, rules, gen, conf),
		prover:       prover,
		memory:       NewMemoryMaintainer(dal, interval, mx),
	}
}

// Start launches the admission pipeline worker and the memory maintainer.
func (c *Core) Start(ctx context.Context) {
	c.pipeline.Start(ctx)
	c.memory.RegularCleanMemory(ctx)
}

// Stop tears down the memory maintainer and the admission pipeline, in
// that order so no new mutation can begin while memory cleanup is being
// canceled.
func (c *Core) Stop() error {
	c.memory.StopCleanMemory()
	return c.pipeline.Stop()
}

// Current returns the current head, or nil if the chain is empty.
func (c *Core) Current(ctx context.Context) (*Block, error) {
	return c.cc.Current(ctx)
}

// Promoted returns the canonical block at number, or ErrBlockNotFound.
func (c *Core) Promoted(ctx context.Context, number uint64) (*Block, error) {
	b, err := c.dal.GetPromoted(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("core: promoted %d: %w", number, err)
	}
	if b == nil {
		return nil, ErrBlockNotFound
	}
	return b, nil
}

// CheckBlock delegates to the chain context's rules-engine check.
func (c *Core) CheckBlock(ctx context.Context, block *Block, mode CheckMode) error {
	return c.cc.CheckBlock(ctx, block, mode)
}

// Branches returns the tip of every longest side-branch plus the current head.
func (c *Core) Branches(ctx context.Context) ([]*Block, error) {
	current, err := c.cc.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("core: branches: read current: %w", err)
	}
	return c.be.Branches(ctx, current)
}

// SubmitBlock admits block as a main-chain extension or side-chain addition.
func (c *Core) SubmitBlock(ctx context.Context, block *Block, doCheck, forkAllowed bool) (*Block, error) {
	return c.pipeline.SubmitBlock(ctx, block, doCheck, forkAllowed)
}

// RevertCurrentBlock undoes the current head.
func (c *Core) RevertCurrentBlock(ctx context.Context) error {
	return c.pipeline.RevertCurrentBlock(ctx)
}

// GenerateManualRoot asks the generator for a manually-triggered root block.
func (c *Core) GenerateManualRoot(ctx context.Context) (*Block, error) {
	return c.gen.ManualRoot(ctx)
}

// GenerateNext asks the generator for the next candidate block.
func (c *Core) GenerateNext(ctx context.Context) (*Block, error) {
	return c.gen.NextBlock(ctx)
}

// RequirementsOfIdentity computes one identity's membership/certification
// status against the current head.
func (c *Core) RequirementsOfIdentity(ctx context.Context, pubkey PublicKey) (*IdentityRequirements, error) {
	current, err := c.cc.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("core: requirements of %s: read current: %w", pubkey, err)
	}
	return c.requirements.RequirementsOfIdentity(ctx, pubkey, current)
}

// RequirementsOfIdentities computes requirements for several identities
// against the same current head.
func (c *Core) RequirementsOfIdentities(ctx context.Context, pubkeys []PublicKey) ([]*IdentityRequirements, error) {
	current, err := c.cc.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("core: requirements: read current: %w", err)
	}
	out := make([]*IdentityRequirements, 0, len(pubkeys))
	for _, pk := range pubkeys {
		r, err := c.requirements.RequirementsOfIdentity(ctx, pk, current)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// GetValidCerts returns the persisted valid incoming certifications for pubkey.
func (c *Core) GetValidCerts(ctx context.Context, pubkey PublicKey) ([]Certification, error) {
	return c.dal.GetValidLinksTo(ctx, pubkey)
}

// Prove runs the proof-of-work step on candidate directly, outside of
// StartGeneration's precondition chain; used by callers that have already
// decided to prove a specific block (e.g. a manual root).
func (c *Core) Prove(ctx context.Context, candidate *Block, trial int) (*Block, error) {
	return c.prover.prove(ctx, candidate, trial)
}

// StartGeneration runs the prover's full precondition chain and, if they
// pass, produces and proves the next candidate block.
func (c *Core) StartGeneration(ctx context.Context) (*Block, ProverReason, error) {
	return c.prover.StartGeneration(ctx)
}

// MakeNextBlock asks the generator to build and prove a specific candidate
// at the given trial difficulty.
func (c *Core) MakeNextBlock(ctx context.Context, candidate *Block, trial int) (*Block, error) {
	return c.gen.MakeNextBlock(ctx, candidate, trial)
}

// SaveParametersForRootBlock persists currency parameters carried by block 0.
func (c *Core) SaveParametersForRootBlock(ctx context.Context, root *Block) error {
	return c.cc.SaveParametersForRootBlock(ctx, root)
}

// SaveBlocksInMainBranch bulk-applies a contiguous segment, typically
// during initial sync.
func (c *Core) SaveBlocksInMainBranch(ctx context.Context, blocks []*Block, targetLastNumber uint64) error {
	return c.bookkeeper.SaveBlocksInMainBranch(ctx, blocks, targetLastNumber)
}

// ObsoleteInMainBranch expires memberships and certifications against current.
func (c *Core) ObsoleteInMainBranch(ctx context.Context, current *Block) error {
	return c.bookkeeper.ObsoleteInMainBranch(ctx, current)
}

// CertificationLookup is the result of GetCertificationsExcludingBlock.
// Number is -1 when the lookup failed or found nothing, matching the
// sentinel the DAL's own propagation policy calls for.
type CertificationLookup struct {
	Found         bool
	Certification Certification
	Number        int64
}

// GetCertificationsExcludingBlock looks up pubkey's certification
// excluding the given block, swallowing any DAL failure into the -1
// sentinel rather than propagating it.
func (c *Core) GetCertificationsExcludingBlock(ctx context.Context, pubkey PublicKey, excluded uint64) CertificationLookup {
	cert, err := c.dal.GetCertificationExcludingBlock(ctx, pubkey, excluded)
	if err != nil {
		c.log.Warn("certification lookup failed, swallowing", "pubkey", pubkey, "error", err)
		return CertificationLookup{Number: -1}
	}
	if cert == nil {
		return CertificationLookup{Number: -1}
	}
	return CertificationLookup{Found: true, Certification: *cert, Number: int64(cert.Number)}
}

// BlocksBetween returns count blocks starting at from, rejecting
// unreasonably large ranges.
func (c *Core) BlocksBetween(ctx context.Context, from uint64, count int) ([]*Block, error) {
	if count > 5000 {
		return nil, ErrRangeTooLarge
	}
	return c.dal.GetBlocksBetween(ctx, from, count)
}

// RegularCleanMemory starts the periodic background compaction task.
func (c *Core) RegularCleanMemory(ctx context.Context) {
	c.memory.RegularCleanMemory(ctx)
}

// StopCleanMemory stops the periodic background compaction task.
func (c *Core) StopCleanMemory() {
	c.memory.StopCleanMemory()
}

// RecentForkSwitches returns the most recent fork-switch attempts, for
// observability tooling.
func (c *Core) RecentForkSwitches(limit int) []ForkSwitchEvent {
	return c.fsc.RecentForkSwitches(limit)
}

// StopPoWThenProcessAndRestartPoW cancels any in-flight proof-of-work, runs
// mutate (expected to perform some chain mutation outside the normal
// submission path), then kicks off a fresh generation attempt.
func (c *Core) StopPoWThenProcessAndRestartPoW(ctx context.Context, mutate func(context.Context) error) error {
	c.prover.Cancel()
	if err := mutate(ctx); err != nil {
		return err
	}
	go func() {
		if _, _, err := c.prover.StartGeneration(ctx); err != nil {
			c.log.Warn("restart generation after mutation failed", "error", err)
		}
	}()
	return nil
}
