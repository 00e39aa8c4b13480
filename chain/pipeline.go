package chain

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/wyvernnet/sncore/log"
)

// Pipeline is the single-writer FIFO lane that admits candidate blocks as
// main-chain extensions or side-chain additions. All chain-mutating
// operations run as closures drained by one worker goroutine, so ordering
// and "one task fully completes before the next starts" are structural
// guarantees rather than a mutex convention.
type Pipeline struct {
	cc   *ChainContext
	fs   *ForkStore
	fsc  *ForkSwitchController
	conf Config
	mx   *Metrics
	log  *log.Logger

	tasks  chan func()
	g      *errgroup.Group
	cancel context.CancelFunc
}

// NewPipeline builds a Pipeline over the given components. fsc may be nil
// if fork-switching is disabled.
func NewPipeline(cc *ChainContext, fs *ForkStore, fsc *ForkSwitchController, conf Config, mx *Metrics) *Pipeline {
	return &Pipeline{
		cc:    cc,
		fs:    fs,
		fsc:   fsc,
		conf:  conf,
		mx:    mx,
		log:   log.Default().Module("pipeline"),
		tasks: make(chan func(), 256),
	}
}

// Start launches the worker goroutine. It returns once the goroutine is
// scheduled; use Stop to tear it down.
func (p *Pipeline) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, gctx := errgroup.WithContext(workerCtx)
	p.g = g
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case task := <-p.tasks:
				task()
			}
		}
	})
}

// Stop cancels the worker goroutine and waits for it to exit.
func (p *Pipeline) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	if err := p.g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (p *Pipeline) enqueue(ctx context.Context, task func()) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type submitResult struct {
	block *Block
	err   error
}

// SubmitBlock enqueues block for admission and blocks until the FIFO lane
// has processed it (or ctx is canceled first).
func (p *Pipeline) SubmitBlock(ctx context.Context, block *Block, doCheck, forkAllowed bool) (*Block, error) {
	results := make(chan submitResult, 1)
	task := func() {
		b, err := p.submitBlock(ctx, block, doCheck, forkAllowed)
		results <- submitResult{b, err}
	}
	if err := p.enqueue(ctx, task); err != nil {
		return nil, err
	}
	select {
	case res := <-results:
		return res.block, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RevertCurrentBlock enqueues a revert of the current head and blocks
// until the FIFO lane has processed it.
func (p *Pipeline) RevertCurrentBlock(ctx context.Context) error {
	errs := make(chan error, 1)
	task := func() { errs <- p.cc.RevertCurrentBlock(ctx, p.fs) }
	if err := p.enqueue(ctx, task); err != nil {
		return err
	}
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submitBlock runs on the worker goroutine only.
func (p *Pipeline) submitBlock(ctx context.Context, block *Block, doCheck, forkAllowed bool) (*Block, error) {
	fingerprintIssuers(block)

	if dup, err := p.cc.dal.GetBlockByNumberAndHashOrNull(ctx, block.Number, block.Hash); err != nil {
		return nil, fmt.Errorf("pipeline: check duplicate %s: %w", block.NumberAndHash(), err)
	} else if dup != nil && !dup.Fork {
		p.recordAdmissionError("already_processed")
		return nil, ErrAlreadyProcessed
	}

	current, err := p.cc.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read current: %w", err)
	}
	followsCurrent := current == nil ||
		(block.Number == current.Number+1 && block.PreviousHash == current.Hash)

	if followsCurrent {
		applied, err := p.cc.AddBlock(ctx, block, doCheck)
		if err != nil {
			p.recordAdmissionError(admissionErrorKind(err))
			return nil, err
		}
		p.cancelProver()
		return applied, nil
	}

	if !forkAllowed {
		p.recordAdmissionError("fork_rejected")
		return nil, ErrForkRejected
	}

	if current != nil && p.conf.ForkSize > 0 && block.Number <= current.Number &&
		current.Number-block.Number+1 >= p.conf.ForkSize {
		p.recordAdmissionError("out_of_fork_window")
		return nil, ErrOutOfForkWindow
	}

	existing, err := p.fs.GetAbsoluteBlockByNumberAndHash(ctx, block.Number, block.Hash)
	if err != nil {
		return nil, fmt.Errorf("pipeline: check side duplicate %s: %w", block.NumberAndHash(), err)
	}

	side := existing
	if side == nil {
		side, err = p.cc.AddSideBlock(ctx, p.fs, block, doCheck)
		if err != nil {
			p.recordAdmissionError(admissionErrorKind(err))
			return nil, err
		}
	}

	if p.fsc != nil && current != nil {
		if err := p.fsc.tryToFork(ctx, current); err != nil {
			p.log.Warn("fork switch attempt errored", "error", err)
		}
	}
	return side, nil
}

func admissionErrorKind(err error) string {
	if _, ok := AsInvalidBlockError(err); ok {
		return "invalid_block"
	}
	return "other"
}

func (p *Pipeline) recordAdmissionError(kind string) {
	if p.mx != nil {
		p.mx.AdmissionErrors.WithLabelValues(kind).Inc()
	}
}

func (p *Pipeline) cancelProver() {
	if p.fsc != nil {
		p.fsc.cancelProver()
	}
}

// fingerprintIssuers denormalizes each transaction's issuer onto its
// inputs, so later source lookups don't need to walk back to the owning
// transaction. Multi-issuer transactions are left for the rules engine to
// resolve; here the first issuer is used as a best-effort tag.
func fingerprintIssuers(block *Block) {
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if len(tx.Issuers) == 0 {
			continue
		}
		for j := range tx.Inputs {
			if tx.Inputs[j].Pubkey == "" {
				tx.Inputs[j].Pubkey = tx.Issuers[0]
			}
		}
	}
}
