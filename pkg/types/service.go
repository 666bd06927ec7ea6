package types

import "time"

// FailureState tracks crash-loop detection and auto-rollback backoff (§4.D).
type FailureState struct {
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastFailedVersion   string     `json:"lastFailedVersion,omitempty"`
	BackoffUntil        *time.Time `json:"backoffUntil,omitempty"`
}

// InBackoff reports whether the service is currently backing off.
func (f FailureState) InBackoff(now time.Time) bool {
	return f.BackoffUntil != nil && now.Before(*f.BackoffUntil)
}

// Service is a declarative replica specification owning a set of Pods (§3).
// Replicas == 0 means DaemonSet mode: one pod per matching node.
type Service struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Namespace       string            `json:"namespace"`
	PackID          string            `json:"packId"`
	PackName        string            `json:"packName"`
	PackVersion     string            `json:"packVersion"`
	Replicas        int               `json:"replicas"`
	Status          ServiceStatus     `json:"status"`
	Visibility      Visibility        `json:"visibility"`
	Exposed         bool              `json:"exposed"`
	IngressPort     int               `json:"ingressPort,omitempty"`
	Scheduling      Scheduling        `json:"scheduling"`
	Tolerations     []Toleration      `json:"tolerations"`
	ResourceRequests Resources        `json:"resourceRequests"`
	PodLabels       map[string]string `json:"podLabels"`
	AllowedSources  []string          `json:"allowedSources"`
	FollowLatest    bool              `json:"followLatest"`
	FailureState    FailureState      `json:"failureState"`
	LastStableVersion string          `json:"lastStableVersion,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	Version         int64             `json:"-"`
}

// DaemonSet reports whether this service runs in DaemonSet mode.
func (s Service) DaemonSet() bool { return s.Replicas == 0 }
