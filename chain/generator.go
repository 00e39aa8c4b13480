package chain

import "context"

// PreJoinData is the snapshot the Requirements Evaluator needs before
// computing provisional certifications for an identity.
type PreJoinData struct {
	Pubkey        PublicKey
	UID           string
	Buid          string
	WasMember     bool
	CurrentMSN    int64 // -1 if the identity has no current membership action
}

// Generator pools pending identities/certifications/transactions and builds
// candidate blocks; implemented outside this module.
type Generator interface {
	ManualRoot(ctx context.Context) (*Block, error)
	NextBlock(ctx context.Context) (*Block, error)
	NextEmptyBlock(ctx context.Context) (*Block, error)
	MakeNextBlock(ctx context.Context, candidate *Block, trial int) (*Block, error)

	GetSinglePreJoinData(ctx context.Context, pubkey PublicKey) (*PreJoinData, error)
	ComputeNewCerts(ctx context.Context, current *Block, pending []PreJoinData) ([]Certification, error)
	NewCertsToLinks(ctx context.Context, certs []Certification) ([]Certification, error)
}
