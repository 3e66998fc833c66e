package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tesselslate/scxhetero/internal/model"
)

func TestParseCPUList(t *testing.T) {
	require.Equal(t, []int{0, 1, 2, 3, 8, 10, 11}, parseCPUList("0-3,8,10-11"))
	require.Nil(t, parseCPUList(""))
	require.Equal(t, []int{5}, parseCPUList("5"))
}

func TestGroupByIDSingleClusterWhenAllUnknown(t *testing.T) {
	ids := []int{-1, -1, -1, -1}
	clusters := groupByID(ids, 4)
	// All CPUs share one cluster when no L3 id is known, matching the
	// single-cluster degrade documented in Detect.
	require.Len(t, clusters, 1)
}

func TestGroupByIDGroupsSharedIDs(t *testing.T) {
	ids := []int{0, 0, 1, 1}
	clusters := groupByID(ids, 4)
	require.Len(t, clusters, 2)
	require.ElementsMatch(t, []int{0, 1}, clusters[0])
	require.ElementsMatch(t, []int{2, 3}, clusters[1])
}

func TestToSet(t *testing.T) {
	s := toSet([]int{1, 3, 5})
	require.True(t, s[1])
	require.True(t, s[3])
	require.False(t, s[2])
}

func TestZenGenerationFromFamily(t *testing.T) {
	require.Equal(t, 4, zenGenerationFromFamily(0x19, 0))
	require.Equal(t, 5, zenGenerationFromFamily(0x1A, 0))
	require.Equal(t, 0, zenGenerationFromFamily(0x17, 0))
}

func TestIsHybridIntelAndGeneration(t *testing.T) {
	require.True(t, isHybridIntel(6, 0x97))
	require.False(t, isHybridIntel(6, 0x55))
	require.Equal(t, 12, intelGenerationFromModel(0x97))
	require.Equal(t, 13, intelGenerationFromModel(0xb7))
	require.Equal(t, 14, intelGenerationFromModel(0xbf))
	require.Equal(t, 0, intelGenerationFromModel(0x01))
}

// A hybrid part reporting zero E-cores (not a real part, but exercises the
// boundary) must still leave IsHybrid false rather than panic downstream,
// since IsHybrid requires both lists non-empty.
func TestDetectHybridCoresEmptyIsNotHybrid(t *testing.T) {
	topo := &model.Topology{PCores: []int{0, 1, 2, 3}, ECores: []int{}}
	require.False(t, topo.IsHybrid())
}

func TestIsX3DModel(t *testing.T) {
	require.True(t, isX3DModel("AMD Ryzen 7 7800X3D 8-Core Processor"))
	require.True(t, isX3DModel("AMD Ryzen 9 9950X3D 16-Core Processor"))
	require.False(t, isX3DModel("AMD Ryzen 7 7800X 8-Core Processor"))
	require.False(t, isX3DModel("AMD Ryzen 9 7950X 16-Core Processor"))
}

// A single-CCD stacked-cache model (7800X3D, 9800X3D) must still report
// cluster 0 as the stacked-cache cluster: there is no second cluster to
// compare against, so the selection can't be inferred from cache-size
// differences and has to fall out of the model-name match alone.
func TestStackedCacheClustersSingleClusterReportsClusterZero(t *testing.T) {
	d := &Detector{}
	clusters := [][]int{{0, 1, 2, 3, 4, 5, 6, 7}}
	stacked, freqBiased, _ := d.stackedCacheClusters(clusters, 4)
	require.NotNil(t, stacked)
	require.Equal(t, uint32(0), *stacked)
	require.Nil(t, freqBiased, "single-cluster parts have no frequency-biased cluster")
}

func TestStackedCacheClustersZen5MultiClusterSetsFreqBiased(t *testing.T) {
	d := &Detector{}
	clusters := [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}
	stacked, freqBiased, _ := d.stackedCacheClusters(clusters, 5)
	require.Equal(t, uint32(0), *stacked)
	require.NotNil(t, freqBiased)
	require.Equal(t, uint32(1), *freqBiased)
}

func TestStackedCacheClustersZen4MultiClusterLeavesFreqBiasedNil(t *testing.T) {
	d := &Detector{}
	clusters := [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}
	_, freqBiased, _ := d.stackedCacheClusters(clusters, 4)
	require.Nil(t, freqBiased, "freq-biased cluster is only set on Zen 5 asymmetric parts")
}
