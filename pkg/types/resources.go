package types

// Resources is the shape shared by a node's allocatable/allocated capacity
// and a pod's resource requests/limits (§3). Units are fixed by the field's
// meaning, not parsed from a string: millicores, MB, MB, count.
type Resources struct {
	CPU     int64 `json:"cpu"`
	Memory  int64 `json:"memory"`
	Storage int64 `json:"storage"`
	Pods    int64 `json:"pods"`
}

// Fits reports whether want can be carved out of the remaining capacity
// (allocatable - allocated) on every dimension. It adds no pod slot of its
// own: want.Pods is compared as given.
func (avail Resources) Fits(want Resources) bool {
	return want.CPU <= avail.CPU &&
		want.Memory <= avail.Memory &&
		want.Storage <= avail.Storage &&
		want.Pods <= avail.Pods
}

// Sub returns avail - used, clamped at zero per-dimension so a stale read
// never reports negative remaining capacity.
func (avail Resources) Sub(used Resources) Resources {
	return Resources{
		CPU:     clampNonNeg(avail.CPU - used.CPU),
		Memory:  clampNonNeg(avail.Memory - used.Memory),
		Storage: clampNonNeg(avail.Storage - used.Storage),
		Pods:    clampNonNeg(avail.Pods - used.Pods),
	}
}

// Add returns a + b component-wise.
func (a Resources) Add(b Resources) Resources {
	return Resources{
		CPU:     a.CPU + b.CPU,
		Memory:  a.Memory + b.Memory,
		Storage: a.Storage + b.Storage,
		Pods:    a.Pods + b.Pods,
	}
}

// LessEqual reports whether a <= b component-wise (the allocated <=
// allocatable invariant in §3/§8).
func (a Resources) LessEqual(b Resources) bool {
	return a.CPU <= b.CPU && a.Memory <= b.Memory && a.Storage <= b.Storage && a.Pods <= b.Pods
}

func clampNonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
