package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wyvernnet/sncore/log"
)

// ProverReason reports why StartGeneration did not produce a block. It is
// never an error: all of these are soft preconditions the caller should
// simply wait out.
type ProverReason string

const (
	ReasonNone              ProverReason = ""
	ReasonNotParticipating  ProverReason = "not_participating"
	ReasonNoSelfPubkey      ProverReason = "no_self_pubkey"
	ReasonWaitingForRoot    ProverReason = "waiting_for_root"
	ReasonNotMember         ProverReason = "not_member"
	ReasonDifficultyTooHigh ProverReason = "difficulty_too_high"
	ReasonCanceled          ProverReason = "pow_canceled"
)

// ProverController orchestrates proof-of-work generation: starting a run,
// canceling an in-flight one on chain mutation, and self-throttling after
// issuing one's own block.
type ProverController struct {
	dal        DAL
	rules      RulesEngine
	gen        Generator
	conf       Config
	selfPubkey PublicKey
	mx         *Metrics
	log        *log.Logger

	mu        sync.Mutex
	computing bool
	cancelFn  context.CancelFunc
	lastWrong bool
}

// NewProverController builds a controller that issues blocks as selfPubkey.
func NewProverController(dal DAL, rules RulesEngine, gen Generator, conf Config, selfPubkey PublicKey, mx *Metrics) *ProverController {
	return &ProverController{
		dal: dal, rules: rules, gen: gen, conf: conf, selfPubkey: selfPubkey, mx: mx,
		log: log.Default().Module("prover"),
	}
}

// Computing reports whether a proof-of-work run is currently in flight.
func (pc *ProverController) Computing() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.computing
}

// Cancel preempts any in-flight proof-of-work or wait. Safe to call when
// nothing is running.
func (pc *ProverController) Cancel() {
	pc.mu.Lock()
	fn := pc.cancelFn
	pc.mu.Unlock()
	if fn != nil {
		fn()
		if pc.mx != nil {
			pc.mx.PoWCancellations.Inc()
		}
	}
}

// MarkWrong flags that the block the last generation run produced (or was
// building towards) turned out to be wrong, so the next run starts from an
// empty candidate instead of replaying its pending content.
func (pc *ProverController) MarkWrong() {
	pc.mu.Lock()
	pc.lastWrong = true
	pc.mu.Unlock()
}

// StartGeneration runs the full precondition chain and, if every check
// passes, generates and proves the next candidate block. Soft
// preconditions are reported via the returned reason, never as an error.
func (pc *ProverController) StartGeneration(ctx context.Context) (*Block, ProverReason, error) {
	if !pc.conf.Participate {
		return nil, ReasonNotParticipating, nil
	}
	if pc.selfPubkey == "" {
		return nil, ReasonNoSelfPubkey, nil
	}

	current, err := pc.dal.GetCurrentBlockOrNull(ctx)
	if err != nil {
		return nil, ReasonNone, fmt.Errorf("prover: read current: %w", err)
	}
	if current == nil {
		return nil, ReasonWaitingForRoot, nil
	}

	isMember, err := pc.dal.IsMember(ctx, pc.selfPubkey)
	if err != nil {
		return nil, ReasonNone, fmt.Errorf("prover: check membership: %w", err)
	}
	if !isMember {
		return nil, ReasonNotMember, nil
	}

	if current.Issuer == pc.selfPubkey && pc.conf.PoWDelay > 0 {
		if err := pc.waitBeforePoW(ctx, time.Duration(pc.conf.PoWDelay)*time.Second); err != nil {
			return nil, ReasonCanceled, nil
		}
	}

	trial, err := pc.rules.GetTrialLevel(ctx, pc.selfPubkey, pc.conf)
	if err != nil {
		return nil, ReasonNone, fmt.Errorf("prover: trial level: %w", err)
	}
	if trial > current.PowMin+2 {
		return nil, ReasonDifficultyTooHigh, nil
	}

	var candidate *Block
	if pc.lastWrong {
		candidate, err = pc.gen.NextEmptyBlock(ctx)
	} else {
		candidate, err = pc.gen.NextBlock(ctx)
	}
	if err != nil {
		return nil, ReasonNone, fmt.Errorf("prover: generate candidate: %w", err)
	}

	proven, err := pc.prove(ctx, candidate, trial)
	if err != nil {
		if errors.Is(err, ErrPoWCanceled) {
			return nil, ReasonCanceled, nil
		}
		return nil, ReasonNone, err
	}
	return proven, ReasonNone, nil
}

// prove runs the generator's proof-of-work step under a cancelable context
// published via Cancel.
func (pc *ProverController) prove(ctx context.Context, candidate *Block, trial int) (*Block, error) {
	powCtx, cancel := context.WithCancel(ctx)
	pc.mu.Lock()
	pc.computing = true
	pc.cancelFn = cancel
	pc.mu.Unlock()
	defer func() {
		pc.mu.Lock()
		pc.computing = false
		pc.cancelFn = nil
		pc.mu.Unlock()
		cancel()
	}()

	proven, err := pc.gen.MakeNextBlock(powCtx, candidate, trial)
	if err != nil {
		if powCtx.Err() != nil {
			return nil, ErrPoWCanceled
		}
		return nil, fmt.Errorf("prover: make next block: %w", err)
	}
	pc.lastWrong = false
	return proven, nil
}

// waitBeforePoW blocks for d, cancelable via Cancel.
func (pc *ProverController) waitBeforePoW(ctx context.Context, d time.Duration) error {
	waitCtx, cancel := context.WithCancel(ctx)
	pc.mu.Lock()
	pc.cancelFn = cancel
	pc.mu.Unlock()
	defer func() {
		pc.mu.Lock()
		pc.cancelFn = nil
		pc.mu.Unlock()
		cancel()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-waitCtx.Done():
		return ErrPoWCanceled
	}
}
