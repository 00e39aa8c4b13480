// Package chain implements the blockchain service core: block admission,
// fork detection and switching, chain-extension bookkeeping, identity
// requirements, proof-of-work orchestration, and periodic compaction.
package chain

import (
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

// HashLength is the size in bytes of a content-addressed block identifier.
const HashLength = 32

// Hash identifies a block by content. It is produced by the external
// cryptographic layer; the core never computes one itself.
type Hash [HashLength]byte

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Hex returns the 0x-prefixed hex encoding of h.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// HexToHash parses a 0x-prefixed or bare hex string into a Hash. Malformed
// input yields the zero hash, matching the permissive style of block
// identifiers coming from an already-validated external source.
func HexToHash(s string) Hash {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}
	}
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// PublicKey is an opaque, base58-encoded identity public key. Signature
// verification and encoding live in the external cryptographic layer;
// the core treats it as a comparable, loggable value.
type PublicKey string

// Identity is the lightweight identifier for a web-of-trust member used by
// the Requirements Evaluator and the Chain-Extension Bookkeeper.
type Identity struct {
	Pubkey PublicKey
	UID    string
	Buid   string // block-UID the identity was written in, "<number>-<hash>"
}

// Certification is a signed attestation that Issuer certifies Receiver,
// timestamped at the certifying block.
type Certification struct {
	Issuer    PublicKey
	Receiver  PublicKey
	Number    uint64 // block number the certification was written in
	Timestamp int64  // medianTime of the certifying block
	SigValid  bool
}

// Membership records a join/renew/leave action by a member against a block.
type Membership struct {
	Pubkey      PublicKey
	Type        MembershipType
	Number      uint64 // block number the action was written in
	Hash        Hash   // block hash the action was written in
	MedianTime  int64
	FPR         string // fingerprint of the identity block referenced
}

// MembershipType enumerates the kinds of membership actions a block can carry.
type MembershipType int

const (
	MembershipJoin MembershipType = iota
	MembershipActive
	MembershipLeave
)

// Source is a spendable output created by the chain, most commonly a
// Universal Dividend share credited to a member.
type Source struct {
	Pubkey     PublicKey
	Type       SourceType
	Amount     *uint256.Int
	Base       uint32
	Conditions string // e.g. "SIG(<pubkey>)"
	Consumed   bool
	Identifier Hash
	Pos        uint32
}

// SourceType distinguishes dividend sources from transaction outputs.
type SourceType int

const (
	SourceDividend SourceType = iota
	SourceTransaction
)

// TxOutput is a minimal transaction output carried on a Transaction. The
// core does not read it: neither ChainContext nor the Chain-Extension
// Bookkeeper creates sources from transaction outputs (they create only
// dividend sources), and transaction script validation belongs to the
// external rules engine.
type TxOutput struct {
	Pubkey     PublicKey
	Amount     *uint256.Int
	Base       uint32
	Conditions string
}

// TxInput references a Source being consumed. Pubkey is filled in by the
// admission pipeline from the owning Transaction's issuer list rather than
// carried on the wire.
type TxInput struct {
	Identifier Hash
	Pos        uint32
	Pubkey     PublicKey
}

// Transaction is the subset of transaction data a block carries. The core
// uses only Issuers and Inputs, to fingerprint issuers onto inputs at
// admission; Outputs and Hash are carried but not interpreted.
type Transaction struct {
	Issuers []PublicKey
	Inputs  []TxInput
	Outputs []TxOutput
	Hash    Hash
}

// Block is the unit the core admits, validates, and orders.
// Number/hash/previousHash identify and link it, medianTime/powMin/issuer
// are consensus metadata, the slice fields are the payload a block can
// carry, and monetaryMass/UDTime/fork/wrong are derived or core-assigned
// state filled in once the block is applied.
type Block struct {
	Number       uint64
	Hash         Hash
	PreviousHash Hash

	MedianTime int64
	PowMin     int
	Issuer     PublicKey

	Transactions   []Transaction
	Identities     []Identity
	Certifications []Certification
	Joiners        []PublicKey
	Actives        []PublicKey
	Leavers        []PublicKey
	Revoked        []PublicKey
	Excluded       []PublicKey

	Dividend     *uint256.Int // nil when this block does not emit a UD
	UnitBase     uint32
	MembersCount uint32

	// Fork is true iff the block is recorded on a side chain rather than
	// the canonical chain.
	Fork bool
	// Wrong is set when a fork-switch attempt that included this block failed.
	Wrong bool

	// MonetaryMass and UDTime are assigned during main-chain insertion,
	// by accumulating the previous head's values against this block's
	// own dividend.
	MonetaryMass *uint256.Int
	UDTime       int64
}

// IsRoot reports whether b is block 0.
func (b *Block) IsRoot() bool { return b.Number == 0 }

// NumberAndHash formats the (number, hash) identity pair used throughout
// the admission and fork-store lookups.
func (b *Block) NumberAndHash() string {
	return fmt.Sprintf("%d-%s", b.Number, b.Hash.Hex())
}

// Clone returns a deep-enough copy of b for safe mutation of Fork/Wrong and
// the *uint256.Int fields without aliasing the original.
func (b *Block) Clone() *Block {
	cp := *b
	if b.Dividend != nil {
		cp.Dividend = new(uint256.Int).Set(b.Dividend)
	}
	if b.MonetaryMass != nil {
		cp.MonetaryMass = new(uint256.Int).Set(b.MonetaryMass)
	}
	cp.Transactions = append([]Transaction(nil), b.Transactions...)
	cp.Identities = append([]Identity(nil), b.Identities...)
	cp.Certifications = append([]Certification(nil), b.Certifications...)
	cp.Joiners = append([]PublicKey(nil), b.Joiners...)
	cp.Actives = append([]PublicKey(nil), b.Actives...)
	cp.Leavers = append([]PublicKey(nil), b.Leavers...)
	cp.Revoked = append([]PublicKey(nil), b.Revoked...)
	cp.Excluded = append([]PublicKey(nil), b.Excluded...)
	return &cp
}
