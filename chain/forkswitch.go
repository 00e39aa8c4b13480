package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/wyvernnet/sncore/log"
)

// ForkSwitchEvent records the outcome of one fork-switch attempt, for
// observability only: nothing downstream reads it back into fork-choice.
type ForkSwitchEvent struct {
	Result     string // "success" or "rollback"
	FromNumber uint64
	FromHash   Hash
	ToNumber   uint64
	ToHash     Hash
}

const forkSwitchHistoryCap = 64

// ForkSwitchController selects eligible side branches, reverts the head,
// applies the alternative, and rolls back on failure.
type ForkSwitchController struct {
	cc     *ChainContext
	fs     *ForkStore
	be     *BranchEnumerator
	conf   Config
	mx     *Metrics
	prover *ProverController
	log    *log.Logger

	mu      sync.Mutex
	history []ForkSwitchEvent
}

// NewForkSwitchController wires the controller to the components it drives.
// prover may be nil if PoW is not running.
func NewForkSwitchController(cc *ChainContext, fs *ForkStore, be *BranchEnumerator, conf Config, mx *Metrics, prover *ProverController) *ForkSwitchController {
	return &ForkSwitchController{
		cc:     cc,
		fs:     fs,
		be:     be,
		conf:   conf,
		mx:     mx,
		prover: prover,
		log:    log.Default().Module("forkswitch"),
	}
}

// tryToFork attempts a switch away from prevCurrent and signals the prover
// to cancel-and-restart if the head actually moved.
func (fsc *ForkSwitchController) tryToFork(ctx context.Context, prevCurrent *Block) error {
	if err := fsc.eventuallySwitchOnSideChain(ctx, prevCurrent); err != nil {
		return err
	}
	cur, err := fsc.cc.Current(ctx)
	if err != nil {
		return fmt.Errorf("forkswitch: read current after switch attempt: %w", err)
	}
	if headMoved(prevCurrent, cur) {
		fsc.cancelProver()
	}
	return nil
}

func headMoved(a, b *Block) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return a.Number != b.Number || a.Hash != b.Hash
}

func (fsc *ForkSwitchController) cancelProver() {
	if fsc.prover != nil {
		fsc.prover.Cancel()
	}
}

// eventuallySwitchOnSideChain filters branches() by the time/block-ahead
// guard and tries each surviving candidate in turn, stopping at the first
// one that applies cleanly.
func (fsc *ForkSwitchController) eventuallySwitchOnSideChain(ctx context.Context, current *Block) error {
	if current == nil {
		return nil
	}
	all, err := fsc.be.Branches(ctx, current)
	if err != nil {
		return fmt.Errorf("forkswitch: enumerate branches: %w", err)
	}

	var blocksNeeded float64
	if fsc.conf.AvgGenTime > 0 {
		blocksNeeded = float64(fsc.conf.SwitchOnBranchAheadByMinutes) / (float64(fsc.conf.AvgGenTime) / 60.0)
	}
	timeNeeded := fsc.conf.SwitchOnBranchAheadByMinutes * 60

	for _, p := range all {
		if p.Number == current.Number && p.Hash == current.Hash {
			continue
		}
		blocksAhead := float64(p.Number) - float64(current.Number)
		timeAhead := p.MedianTime - current.MedianTime
		if blocksAhead < blocksNeeded || timeAhead < timeNeeded {
			continue
		}
		if fsc.attemptSwitch(ctx, current, p) {
			break
		}
	}
	return nil
}

// attemptSwitch reports whether the candidate applied cleanly, so the
// caller stops at the first one that does instead of chaining further
// attempts off a now-stale current.
func (fsc *ForkSwitchController) attemptSwitch(ctx context.Context, current, p *Block) bool {
	sideChain, err := fsc.getWholeForkBranch(ctx, p)
	if err != nil {
		fsc.log.Warn("resolve side branch failed", "tip", p.NumberAndHash(), "error", err)
		return false
	}
	if len(sideChain) == 0 {
		return false
	}

	if err := fsc.revertToBlock(ctx, sideChain[0].Number-1); err != nil {
		fsc.log.Error("revert to branch base failed", "error", err)
		return false
	}

	if err := fsc.applyChain(ctx, sideChain); err == nil {
		fsc.recordEvent("success", current, p)
		return true
	}

	fsc.rollback(ctx, current, sideChain)
	return false
}

// rollback restores the original chain after a failed apply: rebuild the
// reverted-away chain from the fork store, revert to its base, reapply it,
// and mark every block of the failed side chain wrong.
func (fsc *ForkSwitchController) rollback(ctx context.Context, original *Block, failedSideChain []*Block) {
	revertedChain, err := fsc.getWholeForkBranch(ctx, original)
	if err != nil {
		fsc.log.Error("resolve reverted chain failed", "error", err)
	} else if len(revertedChain) > 0 {
		if err := fsc.revertToBlock(ctx, revertedChain[0].Number-1); err != nil {
			fsc.log.Error("revert after failed switch failed", "error", err)
		} else if err := fsc.applyChain(ctx, revertedChain); err != nil {
			fsc.log.Error("reapply of original chain failed", "error", err)
		}
	}
	for _, b := range failedSideChain {
		if err := fsc.fs.MarkWrong(ctx, b.Number, b.Hash); err != nil {
			fsc.log.Warn("mark wrong failed", "block", b.NumberAndHash(), "error", err)
		}
	}
	tip := failedSideChain[len(failedSideChain)-1]
	fsc.recordEvent("rollback", original, tip)
}

func (fsc *ForkSwitchController) revertToBlock(ctx context.Context, target uint64) error {
	for {
		cur, err := fsc.cc.Current(ctx)
		if err != nil {
			return err
		}
		if cur == nil || cur.Number <= target {
			return nil
		}
		if err := fsc.cc.RevertCurrentBlock(ctx, fsc.fs); err != nil {
			return err
		}
	}
}

func (fsc *ForkSwitchController) applyChain(ctx context.Context, blocks []*Block) error {
	for _, b := range blocks {
		if _, err := fsc.cc.AddBlock(ctx, b, true); err != nil {
			return err
		}
	}
	return nil
}

// getWholeForkBranch walks from tip backward by (number-1, previousHash)
// through the fork store, ascending order once reversed. It stops as soon
// as the predecessor cannot be resolved there: that predecessor is
// canonical, and is never included in the result.
func (fsc *ForkSwitchController) getWholeForkBranch(ctx context.Context, tip *Block) ([]*Block, error) {
	if tip == nil {
		return nil, nil
	}
	result := []*Block{tip}
	cursor := tip
	for cursor.Number > 0 {
		pred, err := fsc.fs.GetAbsoluteBlockByNumberAndHash(ctx, cursor.Number-1, cursor.PreviousHash)
		if err != nil {
			return nil, fmt.Errorf("forkswitch: resolve predecessor of %s: %w", cursor.NumberAndHash(), err)
		}
		if pred == nil || !pred.Fork {
			break
		}
		result = append(result, pred)
		cursor = pred
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

func (fsc *ForkSwitchController) recordEvent(result string, from, to *Block) {
	ev := ForkSwitchEvent{Result: result, ToNumber: to.Number, ToHash: to.Hash}
	if from != nil {
		ev.FromNumber = from.Number
		ev.FromHash = from.Hash
	}
	fsc.mu.Lock()
	fsc.history = append(fsc.history, ev)
	if len(fsc.history) > forkSwitchHistoryCap {
		fsc.history = fsc.history[len(fsc.history)-forkSwitchHistoryCap:]
	}
	fsc.mu.Unlock()

	if fsc.mx != nil {
		fsc.mx.ForkSwitches.WithLabelValues(result).Inc()
	}
	fromDesc := "genesis"
	if from != nil {
		fromDesc = from.NumberAndHash()
	}
	fsc.log.Info("fork switch attempt", "result", result, "from", fromDesc, "to", to.NumberAndHash())
}

// RecentForkSwitches returns up to limit of the most recent fork-switch
// events, newest last. limit <= 0 returns the full retained history.
func (fsc *ForkSwitchController) RecentForkSwitches(limit int) []ForkSwitchEvent {
	fsc.mu.Lock()
	defer fsc.mu.Unlock()
	if limit <= 0 || limit >= len(fsc.history) {
		out := make([]ForkSwitchEvent, len(fsc.history))
		copy(out, fsc.history)
		return out
	}
	out := make([]ForkSwitchEvent, limit)
	copy(out, fsc.history[len(fsc.history)-limit:])
	return out
}
