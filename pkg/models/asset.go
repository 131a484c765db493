package models

import (
	"time"

	"github.com/google/uuid"
)

// Asset is a single managed host, a deployment target for the engine.
type Asset struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`

	// Address is the reachable network address (hostname or IP). The core
	// never stores plaintext secrets — CredentialRef is a handle resolved
	// through the injected secret provider at connection time.
	Address       string `json:"address" db:"address"`
	User          string `json:"user" db:"user"`
	Port          int    `json:"port" db:"port"`
	CredentialRef string `json:"credentialRef" db:"credential_ref"`

	OSFamily    string `json:"osFamily" db:"os_family"`
	Criticality int    `json:"criticality" db:"criticality"` // 1-10
	Environment string `json:"environment" db:"environment"` // dev, staging, prod, canary, blue, green, ...

	MaintenanceMode bool `json:"maintenanceMode" db:"maintenance_mode"`

	DiscoveredAt time.Time `json:"discoveredAt" db:"discovered_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Reachable reports whether an asset is, in principle, a valid deployment
// target: it must carry an address and must not be under maintenance.
// This is the pre-flight check the Deployment Coordinator runs per-asset;
// it says nothing about actual network reachability, which only the
// Remote Executor can determine.
func (a *Asset) Reachable() bool {
	return a.Address != "" && !a.MaintenanceMode
}
