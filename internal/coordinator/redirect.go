package coordinator

import (
	"github.com/chordkv/chordkv/internal/ring"
	"github.com/chordkv/chordkv/internal/wire"
)

// Locate answers a LOCATE_REQ: it returns the (host, port) of the
// node that currently owns client writes for key, or found=false when
// the request should be dropped because the owning range is mid-switch
// (the client is expected to retry per the one-shot redirect policy,
// §9 Q4).
func Locate(reg *Registry, key wire.Key) (host string, port uint16, found bool) {
	n := reg.N()
	primaryID := ring.Primary(key, n)
	primary := reg.Get(primaryID)
	if primary == nil {
		return "", 0, false
	}

	snap := primary.Snapshot()
	if snap.Status == StatusOnline {
		return primary.Config.Host, uint16(primary.Config.ClientPort), true
	}
	if snap.QuiescePuts {
		return "", 0, false
	}

	secondaryID := ring.Secondary(key, n)
	secondary := reg.Get(secondaryID)
	if secondary == nil {
		return "", 0, false
	}
	return secondary.Config.Host, uint16(secondary.Config.ClientPort), true
}
