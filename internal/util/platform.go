package util

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostInfo identifies the machine a decoder runs on. It is attached to
// published telemetry and served from the info endpoint.
type HostInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
}

// GetHostInfo gathers host information. Fields that cannot be read are left
// at their zero value.
func GetHostInfo() HostInfo {
	info := HostInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil && hostInfo.Platform != "" {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// ResourceUsage is a point-in-time sample of the decoder process and the
// volume holding its archive.
type ResourceUsage struct {
	ProcessCPU      float64 `json:"process_cpu_percent"`
	ProcessRSS      uint64  `json:"process_rss_mb"`
	Goroutines      int     `json:"goroutines"`
	SystemMemoryPct float64 `json:"system_memory_percent"`
	DiskFreeMB      uint64  `json:"disk_free_mb"`
	DiskUsedPct     float64 `json:"disk_used_percent"`
}

// SampleUsage collects resource usage. dataDir selects the volume to report
// on; an empty value skips the disk figures.
func SampleUsage(dataDir string) ResourceUsage {
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			usage.ProcessCPU = pct
		}
		if memInfo, err := proc.MemoryInfo(); err == nil {
			usage.ProcessRSS = memInfo.RSS / (1024 * 1024)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryPct = vm.UsedPercent
	}
	if dataDir != "" {
		if du, err := disk.Usage(dataDir); err == nil {
			usage.DiskFreeMB = du.Free / (1024 * 1024)
			usage.DiskUsedPct = du.UsedPercent
		}
	}

	return usage
}
