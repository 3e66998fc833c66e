package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tesselslate/scxhetero/internal/model"
)

func TestIsHypervisor(t *testing.T) {
	require.True(t, isHypervisor("/usr/bin/qemu-system-x86_64"))
	require.True(t, isHypervisor("qemu-kvm"))
	require.False(t, isHypervisor("/usr/bin/wine"))
}

func TestHasPassthroughArg(t *testing.T) {
	argv := []string{
		"qemu-system-x86_64",
		"-name", "guest=win10-gaming",
		"-device", "vfio-pci,host=0000:01:00.0",
	}
	require.True(t, hasPassthroughArg(argv))
	require.False(t, hasPassthroughArg([]string{"qemu-system-x86_64", "-name", "guest=headless"}))
}

func TestParseVMName(t *testing.T) {
	require.Equal(t, "win10-gaming", parseVMName([]string{"qemu", "-name", "guest=win10-gaming,debug-threads=on"}))
	require.Equal(t, "headless", parseVMName([]string{"qemu", "-name", "headless"}))
	require.Equal(t, "", parseVMName([]string{"qemu", "-m", "4096"}))
}

func TestClassifyVM(t *testing.T) {
	require.Equal(t, model.ClassVmGaming, classifyVM(model.VmInfo{Name: "steamos-handheld"}))
	require.Equal(t, model.ClassVmGaming, classifyVM(model.VmInfo{Name: "win10-gaming", HasGpuPassthrough: true}))
	require.Equal(t, model.ClassVmDev, classifyVM(model.VmInfo{Name: "linux-devbox", HasGpuPassthrough: true}),
		"passthrough alone without a Windows/game token must not classify as Gaming")
	require.Equal(t, model.ClassAI, classifyVM(model.VmInfo{Name: "pytorch-training", HasGpuPassthrough: true}))
	require.Equal(t, model.ClassVmDev, classifyVM(model.VmInfo{Name: "ubuntu-dev"}))
}

func TestVcpuCommPattern(t *testing.T) {
	require.True(t, vcpuCommPattern.MatchString("CPU 0/KVM"))
	require.True(t, vcpuCommPattern.MatchString("CPU 12/KVM"))
	require.False(t, vcpuCommPattern.MatchString("IO mon_iothread"))
	require.False(t, vcpuCommPattern.MatchString("vhost-1234"))
}
