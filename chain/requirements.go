package chain

import (
	"context"
	"fmt"

	"github.com/wyvernnet/sncore/log"
)

// CertificationRequirement is one certification's remaining validity, as
// reported by RequirementsOfIdentity.
type CertificationRequirement struct {
	Issuer    PublicKey
	Receiver  PublicKey
	ExpiresIn int64
}

// IdentityRequirements is the per-identity membership/certification status
// computed against a current head.
type IdentityRequirements struct {
	Pubkey                     PublicKey
	UID                        string
	Timestamp                  string // buid of the identity's writing block
	Outdistanced               bool
	Certifications             []CertificationRequirement
	MembershipPendingExpiresIn int64
	MembershipExpiresIn        int64
}

// RequirementsEvaluator computes an identity's membership/certification
// status, combining persisted state with a provisional join at current+1.
type RequirementsEvaluator struct {
	dal   DAL
	rules RulesEngine
	gen   Generator
	conf  Config
	log   *log.Logger
}

// NewRequirementsEvaluator builds an evaluator over the given collaborators.
func NewRequirementsEvaluator(dal DAL, rules RulesEngine, gen Generator, conf Config) *RequirementsEvaluator {
	return &RequirementsEvaluator{dal: dal, rules: rules, gen: gen, conf: conf, log: log.Default().Module("requirements")}
}

// RequirementsOfIdentity implements the per-identity computation.
func (re *RequirementsEvaluator) RequirementsOfIdentity(ctx context.Context, pubkey PublicKey, current *Block) (*IdentityRequirements, error) {
	pre, err := re.gen.GetSinglePreJoinData(ctx, pubkey)
	if err != nil {
		return nil, fmt.Errorf("requirements: pre-join data for %s: %w", pubkey, err)
	}

	provisionalCerts, err := re.gen.ComputeNewCerts(ctx, current, []PreJoinData{*pre})
	if err != nil {
		return nil, fmt.Errorf("requirements: compute new certs for %s: %w", pubkey, err)
	}
	provisionalLinks, err := re.gen.NewCertsToLinks(ctx, provisionalCerts)
	if err != nil {
		return nil, fmt.Errorf("requirements: new certs to links for %s: %w", pubkey, err)
	}

	persisted, err := re.dal.GetValidLinksTo(ctx, pubkey)
	if err != nil {
		return nil, fmt.Errorf("requirements: valid links to %s: %w", pubkey, err)
	}
	unified := make([]Certification, 0, len(persisted)+len(provisionalCerts))
	unified = append(unified, persisted...)
	unified = append(unified, provisionalCerts...)

	outdistanced, err := re.rules.IsOver3Hops(ctx, pubkey, provisionalLinks, []PublicKey{pubkey}, current, re.conf)
	if err != nil {
		return nil, fmt.Errorf("requirements: over-3-hops for %s: %w", pubkey, err)
	}

	currentTime := current.MedianTime

	var membershipExpiresIn int64
	if pre.CurrentMSN >= 0 {
		msBlock, err := re.dal.GetBlockOrNull(ctx, uint64(pre.CurrentMSN))
		if err != nil {
			return nil, fmt.Errorf("requirements: current membership block for %s: %w", pubkey, err)
		}
		if msBlock != nil {
			membershipExpiresIn = maxInt64(0, msBlock.MedianTime+re.conf.MSValidity-currentTime)
		}
	}

	var membershipPendingExpiresIn int64
	pendingJoin, err := re.dal.LastJoinOfIdentity(ctx, pubkey)
	if err != nil {
		return nil, fmt.Errorf("requirements: last join of %s: %w", pubkey, err)
	}
	if pendingJoin != nil {
		pendingBlock, err := re.dal.GetBlockOrNull(ctx, pendingJoin.Number)
		if err != nil {
			return nil, fmt.Errorf("requirements: pending join block for %s: %w", pubkey, err)
		}
		if pendingBlock != nil {
			membershipPendingExpiresIn = maxInt64(0, pendingBlock.MedianTime+re.conf.MSValidity-currentTime)
		}
	}

	certReqs := make([]CertificationRequirement, 0, len(unified))
	for _, c := range unified {
		certReqs = append(certReqs, CertificationRequirement{
			Issuer:    c.Issuer,
			Receiver:  c.Receiver,
			ExpiresIn: maxInt64(0, c.Timestamp+re.conf.SigValidity-currentTime),
		})
	}

	return &IdentityRequirements{
		Pubkey:                     pre.Pubkey,
		UID:                        pre.UID,
		Timestamp:                  pre.Buid,
		Outdistanced:               outdistanced,
		Certifications:             certReqs,
		MembershipPendingExpiresIn: membershipPendingExpiresIn,
		MembershipExpiresIn:        membershipExpiresIn,
	}, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
