package ledger

import "flora-consensus/core"

// StaticBootstrap implements core.Bootstrap from configuration loaded at
// startup. Registry provisioning (HCS-1/2/15/16/17/21 topic creation) is out
// of scope; this only serves already-known bindings back to the rest of the
// system.
type StaticBootstrap struct {
	petalAccounts map[string]string
	participants  []string
}

// NewStaticBootstrap constructs a StaticBootstrap from a petalID->accountID
// map and the known participant set. Either may be nil/empty if not yet
// known.
func NewStaticBootstrap(petalAccounts map[string]string, participants []string) *StaticBootstrap {
	if petalAccounts == nil {
		petalAccounts = map[string]string{}
	}
	return &StaticBootstrap{petalAccounts: petalAccounts, participants: participants}
}

// PetalAccountID implements core.Bootstrap.
func (b *StaticBootstrap) PetalAccountID(petalID string) (string, bool) {
	id, ok := b.petalAccounts[petalID]
	return id, ok
}

// Participants implements core.Bootstrap.
func (b *StaticBootstrap) Participants() ([]string, bool) {
	if len(b.participants) == 0 {
		return nil, false
	}
	return b.participants, true
}

var _ core.Bootstrap = (*StaticBootstrap)(nil)
