// Package disks lists the physical disks offered to the pool wizard, either
// from the storage API or from lsblk on the local host.
package disks

import (
	"context"
	"fmt"

	"nithronos/poolwizard/internal/wizard"
	"nithronos/poolwizard/pkg/nasclient"
)

const (
	SourceBackend = "backend"
	SourceLocal   = "local"
)

// Source enumerates disks.
type Source interface {
	ListDisks(ctx context.Context) ([]wizard.Disk, error)
}

// Lister is the storage API call used by Remote.
type Lister interface {
	ListDisks(ctx context.Context) ([]nasclient.Disk, error)
}

// Remote adapts the storage API disk list.
type Remote struct {
	api Lister
}

func NewRemote(api Lister) *Remote { return &Remote{api: api} }

func (r *Remote) ListDisks(ctx context.Context) ([]wizard.Disk, error) {
	list, err := r.api.ListDisks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list disks: %w", err)
	}
	out := make([]wizard.Disk, 0, len(list))
	for _, d := range list {
		if d.ID == "" {
			continue
		}
		out = append(out, wizard.Disk{
			ID:    d.ID,
			Model: d.Model,
			Size:  d.Size,
			Type:  wizard.ParseDiskType(d.Type),
			Temp:  d.Temp,
		})
	}
	return out, nil
}
