package classify

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tesselslate/scxhetero/internal/model"
)

func TestSetLastClassCountsAggregatesAcrossScanners(t *testing.T) {
	s := NewSet(logrus.New(), nil)
	s.Process.prev = map[uint32]model.TaskClass{1: model.ClassGaming, 2: model.ClassBatch}
	s.VM.prev = map[uint32]model.TaskClass{3: model.ClassVmGaming}
	s.Container.prev = map[uint32]model.TaskClass{4: model.ClassAI}
	s.Cgroup.prev = map[uint64]model.TaskClass{5: model.ClassBatch}

	counts := s.LastClassCounts()
	require.Equal(t, 1, counts[model.ClassGaming])
	require.Equal(t, 1, counts[model.ClassVmGaming])
	require.Equal(t, 1, counts[model.ClassAI])
	require.Equal(t, 2, counts[model.ClassBatch])
}
