// Package remote implements the Remote Execution layer: a connection
// pool plus two interchangeable backends (SSH and HTTP agent) for
// running commands and writing files on deployment targets.
package remote

import (
	"context"
	"io/fs"
	"time"

	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// CommandResult is the outcome of one executed command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Succeeded reports whether the command exited zero.
func (r *CommandResult) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// ExecOptions tunes one command invocation.
type ExecOptions struct {
	Sudo    bool
	Timeout time.Duration
	// ReadOnly marks the command as non-mutating (a liveness probe, a
	// connection test) so it only needs a shared per-host lease rather
	// than the exclusive one every mutating command takes.
	ReadOnly bool
}

// Auth carries the credential material a SecretProvider resolves for
// one asset. Exactly one of PrivateKeyPEM or Password is expected to be
// set; Passphrase only applies to an encrypted private key.
type Auth struct {
	PrivateKeyPEM []byte
	Passphrase    string
	Password      string
}

// SecretProvider resolves an asset's CredentialRef handle into usable
// connection credentials. The core never stores or logs the resolved
// material. Concrete adapter: internal/secrets/vault.
type SecretProvider interface {
	ResolveSSHAuth(ctx context.Context, credentialRef string) (Auth, error)
}

// Executor is the interface the Strategy Engine and Rollback Executor
// drive all asset-level work through. SSHExecutor and AgentExecutor are
// its two concrete backends: SSHExecutor reuses cached connections from
// a Pool, AgentExecutor issues one HTTP request per call.
type Executor interface {
	Execute(ctx context.Context, asset models.Asset, command string, opts ExecOptions) (*CommandResult, error)
	WriteFile(ctx context.Context, asset models.Asset, remotePath string, content []byte, mode fs.FileMode) error
	TestConnection(ctx context.Context, asset models.Asset) error
	Close(asset models.Asset) error
}
