package disks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nithronos/poolwizard/internal/disksize"
	"nithronos/poolwizard/internal/wizard"
	"nithronos/poolwizard/pkg/shell"
)

type lsblkJSON struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Size       any           `json:"size"`
	Rota       any           `json:"rota"`
	Type       string        `json:"type"`
	Tran       string        `json:"tran"`
	Model      string        `json:"model"`
	Mountpoint *string       `json:"mountpoint"`
	Children   []lsblkDevice `json:"children"`
}

// systemMounts mark a disk as holding the running system.
var systemMounts = map[string]bool{"/": true, "/boot": true, "/boot/efi": true, "[SWAP]": true}

// Local lists whole disks with lsblk, skipping the system disk and virtual
// devices.
type Local struct {
	run    shell.Runner
	smart  bool
	logger zerolog.Logger
}

type LocalOption func(*Local)

// WithSMART reads drive temperature through smartctl when it is installed.
func WithSMART() LocalOption { return func(l *Local) { l.smart = true } }

func WithLogger(lg zerolog.Logger) LocalOption { return func(l *Local) { l.logger = lg } }

func NewLocal(run shell.Runner, opts ...LocalOption) *Local {
	l := &Local{run: run, logger: zerolog.Nop()}
	for _, o := range opts {
		o(l)
	}
	l.logger = l.logger.With().Str("component", "disks").Logger()
	return l
}

func (l *Local) ListDisks(ctx context.Context) ([]wizard.Disk, error) {
	res, err := l.run.Run(ctx, 5*time.Second, "lsblk", "-J", "-b", "-o", "NAME,PATH,SIZE,ROTA,TYPE,TRAN,MODEL,MOUNTPOINT")
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	list, err := parseLsblk(res.Stdout)
	if err != nil {
		return nil, err
	}
	if l.smart {
		for i := range list {
			list[i].Temp = l.temperature(ctx, "/dev/"+list[i].ID)
		}
	}
	return list, nil
}

func parseLsblk(b []byte) ([]wizard.Disk, error) {
	var tree lsblkJSON
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("parse lsblk: %w", err)
	}
	out := []wizard.Disk{}
	for _, d := range tree.Blockdevices {
		if d.Type != "disk" || virtual(d.Name) || holdsSystem(d) {
			continue
		}
		size := sizeBytes(d.Size)
		if size == 0 {
			continue
		}
		out = append(out, wizard.Disk{
			ID:    d.Name,
			Model: strings.TrimSpace(d.Model),
			Size:  disksize.Format(size),
			Type:  classify(d),
		})
	}
	return out, nil
}

func virtual(name string) bool {
	for _, p := range []string{"loop", "ram", "zram", "sr", "md", "dm-"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func holdsSystem(d lsblkDevice) bool {
	if d.Mountpoint != nil && systemMounts[*d.Mountpoint] {
		return true
	}
	for _, c := range d.Children {
		if holdsSystem(c) {
			return true
		}
	}
	return false
}

func classify(d lsblkDevice) wizard.DiskType {
	if strings.EqualFold(d.Tran, "nvme") || strings.HasPrefix(d.Name, "nvme") {
		return wizard.DiskNVMe
	}
	if rotational(d.Rota) {
		return wizard.DiskHDD
	}
	return wizard.DiskSSD
}

// rotational accepts the bool, "0"/"1" and number forms lsblk versions emit.
// Unknown counts as spinning.
func rotational(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "0" && !strings.EqualFold(t, "false")
	}
	return true
}

func sizeBytes(v any) uint64 {
	switch t := v.(type) {
	case float64:
		if t > 0 {
			return uint64(t)
		}
	case string:
		if n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func (l *Local) temperature(ctx context.Context, dev string) *float64 {
	res, err := l.run.Run(ctx, 3*time.Second, "smartctl", "-A", "-j", dev)
	if err != nil && len(res.Stdout) == 0 {
		l.logger.Debug().Err(err).Str("device", dev).Msg("smartctl unavailable")
		return nil
	}
	var parsed struct {
		Temperature *struct {
			Current float64 `json:"current"`
		} `json:"temperature"`
	}
	if json.Unmarshal(res.Stdout, &parsed) != nil || parsed.Temperature == nil {
		return nil
	}
	c := parsed.Temperature.Current
	return &c
}
