package model

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPerCpuContextWireSize(t *testing.T) {
	require.Equal(t, 20, binary.Size(PerCpuContext{}))
}

func TestRuntimeTunablesWireSize(t *testing.T) {
	require.Equal(t, 24, binary.Size(RuntimeTunables{}))
}

func TestEventWireSize(t *testing.T) {
	require.Equal(t, 64, binary.Size(Event{}))
}

func TestEventCommString(t *testing.T) {
	ev := Event{}
	copy(ev.Comm[:], "minecraft-lwjgl")
	require.Equal(t, "minecraft-lwjgl", ev.CommString())
}

func TestEventCommStringShorterThanBuffer(t *testing.T) {
	ev := Event{}
	copy(ev.Comm[:], "qemu")
	require.Equal(t, "qemu", ev.CommString())
	require.NotEqual(t, string(ev.Comm[:]), ev.CommString())
}

func TestEventCountersSnapshotIsCommutative(t *testing.T) {
	var a, b EventCounters
	a.Add(EventGamingDetected)
	a.Add(EventPreemptKick)
	a.AddDropped(2)

	b.Add(EventPreemptKick)
	b.Add(EventGamingDetected)
	b.AddDropped(2)

	require.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestEventCountersSnapshotIndependentOfReorderedKinds(t *testing.T) {
	var c EventCounters
	c.Add(EventClusterImbalance)
	c.Add(EventClusterImbalance)
	c.Add(EventProfileMatch)

	snap := c.Snapshot()
	require.Equal(t, uint64(2), snap.ByKind[EventClusterImbalance])
	require.Equal(t, uint64(1), snap.ByKind[EventProfileMatch])
	require.Equal(t, uint64(0), snap.ByKind[EventHighLatency])
}
