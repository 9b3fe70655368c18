package coordinator

import (
	"net"
	"testing"
	"time"

	"github.com/chordkv/chordkv/internal/config"
	"github.com/chordkv/chordkv/internal/wire"
)

func TestBootstrapPeersSendsSetSecondaryToEveryNode(t *testing.T) {
	var lns []net.Listener
	var recvs []chan wire.ServerCtrlReqPayload
	cfgs := make([]config.NodeConfig, 3)
	for i := 0; i < 3; i++ {
		ln, port := listenLoopback(t)
		lns = append(lns, ln)
		cfgs[i] = config.NodeConfig{Host: "127.0.0.1", ClientPort: 9000 + i, PeerPort: 9100 + i, ControlPort: port}
		recv := make(chan wire.ServerCtrlReqPayload, 1)
		recvs = append(recvs, recv)
		ackingNode(t, ln, recv)
	}
	defer func() {
		for _, ln := range lns {
			ln.Close()
		}
	}()

	reg := NewRegistry(cfgs)
	hb := NewHeartbeatMonitor(time.Hour)
	coord := NewCoordinator(reg, hb, fakeLauncher{}, "/bin/node", nil)

	if err := coord.BootstrapPeers(); err != nil {
		t.Fatalf("BootstrapPeers: %v", err)
	}

	for i, recv := range recvs {
		select {
		case req := <-recv:
			if req.Kind != wire.CtrlSetSecondary {
				t.Errorf("node %d got kind %v, want CtrlSetSecondary", i, req.Kind)
			}
			wantPort := cfgs[(i+1)%3].PeerPort
			if int(req.Port) != wantPort {
				t.Errorf("node %d SET_SECONDARY port = %d, want %d", i, req.Port, wantPort)
			}
		case <-time.After(time.Second):
			t.Fatalf("node %d never received SET_SECONDARY", i)
		}
	}
}
