package vault

import (
	"context"
	"testing"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/rollforge/pkg/logger"
)

type fakeLogical struct {
	secrets map[string]*vaultapi.Secret
	err     error
}

func (f *fakeLogical) ReadWithContext(ctx context.Context, path string) (*vaultapi.Secret, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.secrets[path], nil
}

func testProvider(secrets map[string]*vaultapi.Secret) *Provider {
	return &Provider{logical: &fakeLogical{secrets: secrets}, mountPath: "secret", log: logger.New("debug", "text")}
}

func kv2(data map[string]interface{}) *vaultapi.Secret {
	return &vaultapi.Secret{Data: map[string]interface{}{"data": data}}
}

func TestResolveSSHAuth_PrivateKeyWithPassphrase(t *testing.T) {
	p := testProvider(map[string]*vaultapi.Secret{
		"secret/data/web-1-key": kv2(map[string]interface{}{
			"private_key": "-----BEGIN KEY-----",
			"passphrase":  "s3cret",
		}),
	})

	auth, err := p.ResolveSSHAuth(context.Background(), "web-1-key")
	require.NoError(t, err)
	assert.Equal(t, []byte("-----BEGIN KEY-----"), auth.PrivateKeyPEM)
	assert.Equal(t, "s3cret", auth.Passphrase)
	assert.Empty(t, auth.Password)
}

func TestResolveSSHAuth_Password(t *testing.T) {
	p := testProvider(map[string]*vaultapi.Secret{
		"secret/data/web-2-pw": kv2(map[string]interface{}{"password": "hunter2"}),
	})

	auth, err := p.ResolveSSHAuth(context.Background(), "web-2-pw")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", auth.Password)
	assert.Empty(t, auth.PrivateKeyPEM)
}

func TestResolveSSHAuth_NotFound(t *testing.T) {
	p := testProvider(map[string]*vaultapi.Secret{})

	_, err := p.ResolveSSHAuth(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestResolveSSHAuth_NeitherKeyNorPasswordPresent(t *testing.T) {
	p := testProvider(map[string]*vaultapi.Secret{
		"secret/data/empty": kv2(map[string]interface{}{"unrelated": "value"}),
	})

	_, err := p.ResolveSSHAuth(context.Background(), "empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither private_key nor password")
}

func TestResolveSSHAuth_TransportError(t *testing.T) {
	p := &Provider{logical: &fakeLogical{err: assert.AnError}, mountPath: "secret", log: logger.New("debug", "text")}

	_, err := p.ResolveSSHAuth(context.Background(), "anything")
	require.Error(t, err)
}
