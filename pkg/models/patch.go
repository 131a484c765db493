package models

import (
	"time"

	"github.com/google/uuid"
)

// Patch is the immutable remediation artifact this engine drives onto
// assets. Scripts are opaque payloads to the core; any syntactic
// validation happens upstream in the excluded patch-generation/testing
// layers.
type Patch struct {
	ID uuid.UUID `json:"id" db:"id"`

	// ForwardScript is executed on each asset to apply the remediation.
	ForwardScript []byte `json:"forwardScript" db:"forward_script"`

	// ReverseScript undoes ForwardScript. Required before an automatic
	// rollback can fire; its absence is reported, never silently ignored.
	ReverseScript []byte `json:"reverseScript,omitempty" db:"reverse_script"`

	// ValidationScript is run after ForwardScript succeeds, before the
	// asset outcome is recorded as success.
	ValidationScript []byte `json:"validationScript,omitempty" db:"validation_script"`

	// Metadata carries verification hints such as service_name,
	// package_name, previous_version, consumed by the Rollback Executor.
	Metadata map[string]string `json:"metadata" db:"metadata"`

	// Confidence is the upstream prioritization score, 0-100. The core
	// never recomputes it, only reads it for display.
	Confidence int `json:"confidence" db:"confidence"`

	// Approved must be true before the Coordinator will accept this patch
	// for deployment; approval itself happens outside the core.
	Approved bool `json:"approved" db:"approved"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// HasReverseScript reports whether automatic or manual rollback is
// possible for this patch.
func (p *Patch) HasReverseScript() bool {
	return len(p.ReverseScript) > 0
}

// ServiceName returns the service-state verification hint, if present.
func (p *Patch) ServiceName() (string, bool) {
	v, ok := p.Metadata["service_name"]
	return v, ok && v != ""
}

// PackageName returns the package verification hint, if present.
func (p *Patch) PackageName() (string, bool) {
	v, ok := p.Metadata["package_name"]
	return v, ok && v != ""
}

// PreviousVersion returns the version the rollback verification expects to
// see restored, if present.
func (p *Patch) PreviousVersion() (string, bool) {
	v, ok := p.Metadata["previous_version"]
	return v, ok && v != ""
}
