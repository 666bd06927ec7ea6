package types

import "time"

// Pack is an immutable versioned bundle (§3). A registered Pack is never
// mutated, only superseded by a newer version with the same Name.
type Pack struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Version        string     `json:"version"` // semver
	RuntimeTag     RuntimeTag `json:"runtimeTag"`
	OwnerID        string     `json:"ownerId"`
	Visibility     Visibility `json:"visibility"`
	BundlePath     string     `json:"bundlePath"`
	MinNodeVersion string     `json:"minNodeVersion,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Key returns the (name, version) uniqueness key (§3 invariant).
func (p Pack) Key() string { return p.Name + "@" + p.Version }
