package coordinator

import (
	"fmt"
	"testing"

	"github.com/chordkv/chordkv/internal/ring"
	"github.com/chordkv/chordkv/internal/wire"
)

func probeKey(t *testing.T, wantPrimary, n int) wire.Key {
	t.Helper()
	for i := 0; i < 10000; i++ {
		k, err := wire.EncodeKey([]byte(fmt.Sprintf("k-%d", i)))
		if err != nil {
			t.Fatalf("EncodeKey: %v", err)
		}
		if ring.Primary(k, n) == wantPrimary {
			return k
		}
	}
	t.Fatalf("no probe key found with primary %d", wantPrimary)
	return wire.Key{}
}

func TestLocateReturnsPrimaryWhenOnline(t *testing.T) {
	reg := NewRegistry(testConfigs(3))
	key := probeKey(t, 0, 3)

	host, port, found := Locate(reg, key)
	if !found {
		t.Fatal("expected found=true for an ONLINE primary")
	}
	if host != "localhost" || port != 9000 {
		t.Errorf("Locate = (%s,%d), want (localhost,9000)", host, port)
	}
}

func TestLocateRedirectsToSecondaryWhenPrimaryDown(t *testing.T) {
	reg := NewRegistry(testConfigs(3))
	key := probeKey(t, 0, 3)
	reg.Get(0).MarkFailed()
	reg.Get(0).BeginRecovery(nil, nil) // RECON, QuiescePuts still false

	host, port, found := Locate(reg, key)
	if !found {
		t.Fatal("expected found=true, redirected to secondary")
	}
	wantID := ring.Secondary(key, 3)
	wantPort := 9000 + wantID
	if port != uint16(wantPort) || host != "localhost" {
		t.Errorf("Locate = (%s,%d), want (localhost,%d)", host, port, wantPort)
	}
}

func TestLocateDropsRequestWhileQuiescing(t *testing.T) {
	reg := NewRegistry(testConfigs(3))
	key := probeKey(t, 0, 3)
	reg.Get(0).MarkFailed()
	reg.Get(0).BeginRecovery(nil, nil)
	reg.Get(0).BeginSwitch()

	_, _, found := Locate(reg, key)
	if found {
		t.Error("expected found=false while QuiescePuts is set")
	}
}
