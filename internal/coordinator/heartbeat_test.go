package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatRecordUpdatesTimestamp(t *testing.T) {
	hb := NewHeartbeatMonitor(time.Hour)
	hb.Track(0)
	before := hb.Snapshot()[0].LastHeartbeat

	time.Sleep(time.Millisecond)
	hb.RecordHeartbeat(0)

	after := hb.Snapshot()[0].LastHeartbeat
	assert.True(t, after.After(before), "RecordHeartbeat did not advance LastHeartbeat: before=%v after=%v", before, after)
}

func TestHeartbeatIgnoredForFailedNode(t *testing.T) {
	hb := NewHeartbeatMonitor(20 * time.Millisecond)
	hb.Track(0)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	hb.Start(ctx) // blocks until ctx expires; one sweep will mark node 0 FAILED

	status, _ := hb.Status(0)
	require.Equal(t, StatusFailed, status, "precondition: node must already be FAILED")

	before := hb.Snapshot()[0].LastHeartbeat
	hb.RecordHeartbeat(0)
	after := hb.Snapshot()[0].LastHeartbeat
	assert.True(t, after.Equal(before), "heartbeat from a FAILED node must not update LastHeartbeat")
}

func TestHeartbeatSweepMarksStaleNodesFailed(t *testing.T) {
	hb := NewHeartbeatMonitor(20 * time.Millisecond)
	hb.Track(0)

	var failedID int
	failed := make(chan struct{})
	hb.SetOnFailed(func(id int) {
		failedID = id
		close(failed)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go hb.Start(ctx)

	select {
	case <-failed:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("sweep never fired onFailed")
	}
	assert.Equal(t, 0, failedID, "onFailed called with unexpected id")

	status, ok := hb.Status(0)
	assert.True(t, ok)
	assert.Equal(t, StatusFailed, status)
}

func TestHeartbeatSweepIgnoresRecentNode(t *testing.T) {
	hb := NewHeartbeatMonitor(50 * time.Millisecond)
	hb.Track(0)

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hb.RecordHeartbeat(0)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	hb.Start(ctx)
	close(stop)

	status, _ := hb.Status(0)
	assert.Equal(t, StatusOnline, status, "node kept heartbeating, status should remain ONLINE")
}
