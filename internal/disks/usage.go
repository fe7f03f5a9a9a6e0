package disks

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"
)

// Usage of a mounted filesystem.
type Usage struct {
	Path        string  `json:"path"`
	Fstype      string  `json:"fstype"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
}

// MountUsage reports capacity for the pool mount point.
func MountUsage(ctx context.Context, path string) (*Usage, error) {
	st, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Usage{
		Path:        st.Path,
		Fstype:      st.Fstype,
		Total:       st.Total,
		Used:        st.Used,
		Free:        st.Free,
		UsedPercent: st.UsedPercent,
	}, nil
}
