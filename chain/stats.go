package chain

// StatName enumerates the per-block activity statistics tracked by the
// chain-extension bookkeeper.
type StatName string

const (
	StatNewcomers StatName = "newcomers"
	StatCerts     StatName = "certs"
	StatJoiners   StatName = "joiners"
	StatActives   StatName = "actives"
	StatLeavers   StatName = "leavers"
	StatRevoked   StatName = "revoked"
	StatExcluded  StatName = "excluded"
	StatUD        StatName = "ud"
	StatTX        StatName = "tx"
)

var allStats = []StatName{
	StatNewcomers, StatCerts, StatJoiners, StatActives,
	StatLeavers, StatRevoked, StatExcluded, StatUD, StatTX,
}

// Stats is a per-push snapshot handed to DAL.PushStats: for every tracked
// name, the block numbers that were "active" for it (non-empty slice or
// truthy scalar) plus the running last-parsed pointer.
type Stats struct {
	Active          map[StatName][]uint64
	LastParsedBlock map[StatName]uint64
}

// newStats allocates an empty Stats ready for accumulation.
func newStats() Stats {
	s := Stats{
		Active:          make(map[StatName][]uint64, len(allStats)),
		LastParsedBlock: make(map[StatName]uint64, len(allStats)),
	}
	for _, n := range allStats {
		s.Active[n] = nil
	}
	return s
}

// recordBlockStats evaluates block against every tracked stat and appends
// its number where active. Booleans and numbers both trigger; only
// nil/empty/zero counts as inactive.
func recordBlockStats(s *Stats, b *Block) {
	checks := map[StatName]bool{
		StatNewcomers: len(b.Identities) > 0,
		StatCerts:     len(b.Certifications) > 0,
		StatJoiners:   len(b.Joiners) > 0,
		StatActives:   len(b.Actives) > 0,
		StatLeavers:   len(b.Leavers) > 0,
		StatRevoked:   len(b.Revoked) > 0,
		StatExcluded:  len(b.Excluded) > 0,
		StatUD:        b.Dividend != nil && !b.Dividend.IsZero(),
		StatTX:        len(b.Transactions) > 0,
	}
	for name, active := range checks {
		if active {
			s.Active[name] = append(s.Active[name], b.Number)
		}
		s.LastParsedBlock[name] = b.Number
	}
}
