package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tesselslate/scxhetero/internal/model"
)

func TestClassifyCgroupPathBoundaryBehaviors(t *testing.T) {
	cases := []struct {
		path      string
		wantClass model.TaskClass
		wantOk    bool
	}{
		{"/sys/fs/cgroup/system.slice/foo.service", model.ClassBatch, true},
		{"/sys/fs/cgroup/user.slice/app.slice/steam-1234.scope", model.ClassGaming, true},
		{"/sys/fs/cgroup/user.slice/user-1000.slice", 0, false},
		{"/sys/fs/cgroup/user.slice/app.slice/app-firefox.scope", model.ClassInteractive, true},
		{"/sys/fs/cgroup/background.slice/whatever", model.ClassBatch, true},
	}
	for _, c := range cases {
		class, ok := classifyCgroupPath(c.path)
		require.Equal(t, c.wantOk, ok, c.path)
		if ok {
			require.Equal(t, c.wantClass, class, c.path)
		}
	}
}
