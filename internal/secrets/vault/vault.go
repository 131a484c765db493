// Package vault is the concrete Secret Provider adapter: it resolves an
// asset's CredentialRef handle into SSH connection material by reading
// HashiCorp Vault's KV v2 engine, implementing internal/remote's
// SecretProvider interface. Grounded on the teacher's own
// hashicorp/vault/api dependency (go.mod) — the teacher's tree never
// exercises it directly, so this package follows the library's own
// documented KV v2 client shape rather than a teacher call site.
package vault

import (
	"context"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/quantumlayerhq/rollforge/internal/remote"
	"github.com/quantumlayerhq/rollforge/pkg/config"
	"github.com/quantumlayerhq/rollforge/pkg/logger"
)

// logicalReader is the narrow slice of *vaultapi.Logical this package
// depends on, so tests can substitute a fake without talking to a real
// Vault server.
type logicalReader interface {
	ReadWithContext(ctx context.Context, path string) (*vaultapi.Secret, error)
}

// Provider resolves credential references against one Vault KV v2
// mount. It never logs or retains resolved secret material beyond the
// single Auth value it returns.
type Provider struct {
	logical   logicalReader
	mountPath string
	log       *logger.Logger
}

// NewClient builds a Vault API client from config.VaultConfig. The
// caller owns renewal of the token's lease; this package only reads.
func NewClient(cfg config.VaultConfig) (*vaultapi.Client, error) {
	vc := vaultapi.DefaultConfig()
	vc.Address = cfg.Address
	client, err := vaultapi.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	return client, nil
}

// New wraps an already-authenticated Vault client. mountPath is the KV
// v2 mount, e.g. "secret".
func New(client *vaultapi.Client, mountPath string, log *logger.Logger) *Provider {
	if mountPath == "" {
		mountPath = "secret"
	}
	return &Provider{logical: client.Logical(), mountPath: mountPath, log: log.WithComponent("vault-secrets")}
}

var _ remote.SecretProvider = (*Provider)(nil)

// ResolveSSHAuth reads credentialRef's entry under secret/data/<ref> in
// the configured KV v2 mount and maps it to remote.Auth. A credential
// carries either a PEM-encoded private key (optionally passphrase
// protected) or a plain password, never both.
func (p *Provider) ResolveSSHAuth(ctx context.Context, credentialRef string) (remote.Auth, error) {
	path := fmt.Sprintf("%s/data/%s", p.mountPath, credentialRef)
	secret, err := p.logical.ReadWithContext(ctx, path)
	if err != nil {
		return remote.Auth{}, fmt.Errorf("read credential %q: %w", credentialRef, err)
	}
	if secret == nil || secret.Data == nil {
		return remote.Auth{}, fmt.Errorf("credential %q not found", credentialRef)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return remote.Auth{}, fmt.Errorf("credential %q: unexpected KV v2 response shape", credentialRef)
	}

	auth := remote.Auth{}
	if pk, ok := data["private_key"].(string); ok && pk != "" {
		auth.PrivateKeyPEM = []byte(pk)
		if pass, ok := data["passphrase"].(string); ok {
			auth.Passphrase = pass
		}
		return auth, nil
	}
	if pw, ok := data["password"].(string); ok && pw != "" {
		auth.Password = pw
		return auth, nil
	}
	return remote.Auth{}, fmt.Errorf("credential %q: neither private_key nor password present", credentialRef)
}
