package wizard

import (
	"encoding/json"
	"strings"

	"nithronos/poolwizard/internal/disksize"
)

// Step is a position in the setup sequence.
type Step int

const (
	StepDetect Step = iota + 1
	StepData
	StepParity
	StepCache
	StepSummary
	StepProvisioning
	StepDone
)

var stepNames = map[Step]string{
	StepDetect:       "detect",
	StepData:         "data",
	StepParity:       "parity",
	StepCache:        "cache",
	StepSummary:      "summary",
	StepProvisioning: "provisioning",
	StepDone:         "done",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "unknown"
}

// Restorable reports whether a persisted snapshot may resume at s.
// Provisioning is not resumable, so only the selection steps qualify.
func (s Step) Restorable() bool { return s >= StepDetect && s <= StepSummary }

type DiskType string

const (
	DiskHDD  DiskType = "HDD"
	DiskSSD  DiskType = "SSD"
	DiskNVMe DiskType = "NVMe"
)

// ParseDiskType normalises the backend's type field, which arrives in any case.
func ParseDiskType(s string) DiskType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HDD":
		return DiskHDD
	case "SSD":
		return DiskSSD
	case "NVME":
		return DiskNVMe
	}
	return DiskType(strings.ToUpper(strings.TrimSpace(s)))
}

// IsFlash is true for disk types offered as cache.
func (t DiskType) IsFlash() bool { return t == DiskSSD || t == DiskNVMe }

func (t *DiskType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ParseDiskType(s)
	return nil
}

// Disk is a block device as reported by disk detection.
type Disk struct {
	ID    string   `json:"id"`
	Model string   `json:"model"`
	Size  string   `json:"size"`
	Type  DiskType `json:"type"`
	Temp  *float64 `json:"temp,omitempty"`
}

// Bytes is the parsed size; 0 when the size string is malformed.
func (d Disk) Bytes() uint64 { return disksize.Parse(d.Size) }

// Role is the part a disk plays in the pool.
type Role string

const (
	RoleData   Role = "data"
	RoleParity Role = "parity"
	RoleCache  Role = "cache"
)

// Selection is a copy of the three role slots.
type Selection struct {
	DataDisks  []string `json:"dataDisks"`
	ParityDisk string   `json:"parityDisk,omitempty"`
	CacheDisk  string   `json:"cacheDisk,omitempty"`
}

func (s Selection) HasParity() bool { return s.ParityDisk != "" }
func (s Selection) HasCache() bool  { return s.CacheDisk != "" }

// Candidate annotates a disk with its current role and eligibility.
type Candidate struct {
	Disk
	InData         bool `json:"inData"`
	IsParity       bool `json:"isParity"`
	IsCache        bool `json:"isCache"`
	TooSmall       bool `json:"isTooSmall"`
	ParityEligible bool `json:"parityEligible"`
	CacheEligible  bool `json:"cacheEligible"`
}

type TaskID string

const (
	TaskFormat   TaskID = "format"
	TaskMount    TaskID = "mount"
	TaskSnapraid TaskID = "snapraid"
	TaskMergerfs TaskID = "mergerfs"
	TaskFstab    TaskID = "fstab"
	TaskSync     TaskID = "sync"
)

// TaskOrder is the fixed provisioning pipeline.
var TaskOrder = []TaskID{TaskFormat, TaskMount, TaskSnapraid, TaskMergerfs, TaskFstab, TaskSync}

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskError   TaskStatus = "error"
)

// Task is one provisioning pipeline entry. Tasks live only for one run.
type Task struct {
	ID      TaskID     `json:"id"`
	Label   string     `json:"label"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// Snapshot is the persisted subset of wizard state.
type Snapshot struct {
	CurrentStep        int      `json:"currentStep"`
	SelectedDataDisks  []string `json:"selectedDataDisks"`
	SelectedParityDisk *string  `json:"selectedParityDisk"`
	SelectedCacheDisk  *string  `json:"selectedCacheDisk"`
}

// View is the full wizard state handed to renderers.
type View struct {
	Step          Step        `json:"currentStep"`
	StepName      string      `json:"stepName"`
	Disks         []Disk      `json:"disks"`
	DataDisks     []string    `json:"selectedDataDisks"`
	ParityDisk    *string     `json:"selectedParityDisk"`
	CacheDisk     *string     `json:"selectedCacheDisk"`
	Candidates    []Candidate `json:"candidates"`
	IsConfiguring bool        `json:"isConfiguring"`
	Tasks         []Task      `json:"tasks,omitempty"`
	Error         string      `json:"error,omitempty"`
	PoolMount     string      `json:"poolMount,omitempty"`
	Degraded      bool        `json:"persistenceDegraded"`
}

// Route is where the user lands after finishing.
type Route string

const (
	RouteDashboard Route = "/dashboard"
	RouteLogin     Route = "/login"
)

func optional(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
