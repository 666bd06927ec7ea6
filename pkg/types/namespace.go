package types

// ResourceQuota bounds cumulative resource usage within a Namespace (§3).
// A nil pointer field means "no limit on that dimension".
type ResourceQuota struct {
	MaxPods    *int64 `json:"maxPods,omitempty"`
	MaxCPU     *int64 `json:"maxCpu,omitempty"`
	MaxMemory  *int64 `json:"maxMemory,omitempty"`
	MaxStorage *int64 `json:"maxStorage,omitempty"`
}

// Exceeded reports whether projected usage (current + additional) would
// exceed the quota on any configured dimension.
func (q *ResourceQuota) Exceeded(current, additional Resources) bool {
	if q == nil {
		return false
	}
	projected := current.Add(additional)
	if q.MaxPods != nil && projected.Pods > *q.MaxPods {
		return true
	}
	if q.MaxCPU != nil && projected.CPU > *q.MaxCPU {
		return true
	}
	if q.MaxMemory != nil && projected.Memory > *q.MaxMemory {
		return true
	}
	if q.MaxStorage != nil && projected.Storage > *q.MaxStorage {
		return true
	}
	return false
}

// LimitRange holds default requests/limits applied to pods admitted
// without explicit resource fields.
type LimitRange struct {
	DefaultRequests Resources `json:"defaultRequests"`
	DefaultLimits   Resources `json:"defaultLimits"`
}

// Namespace is an isolation boundary with quotas and default limits (§3).
type Namespace struct {
	Name          string         `json:"name"`
	Phase         NamespacePhase `json:"phase"`
	Labels        map[string]string `json:"labels"`
	ResourceQuota *ResourceQuota `json:"resourceQuota,omitempty"`
	LimitRange    *LimitRange    `json:"limitRange,omitempty"`
	CreatedBy     string         `json:"createdBy"`
	Version       int64          `json:"-"`
}
