// internal/secrets/secrets.go
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/zalando/go-keyring"

	custom_errors "repository-reconciler/internal/errors"
)

// ValueField holds the raw secret when the stored value is not a JSON object.
const ValueField = "value"

// ProviderType names a secret backend.
type ProviderType string

const (
	// EnvironmentType reads secrets from environment variables.
	EnvironmentType ProviderType = "environment"

	// KeyringType reads secrets from the operating system keyring.
	KeyringType ProviderType = "keyring"
)

// Secret is a named set of credential fields, e.g. username and personal_access_token.
type Secret map[string]string

// Provider looks up secrets by name.
type Provider interface {
	GetSecret(name string) (Secret, error)
}

// NewProvider creates the provider selected by kind. For the environment provider, location is
// the variable name prefix; for the keyring provider it is the keyring service name.
func NewProvider(kind ProviderType, location string) (Provider, error) {
	switch kind {
	case EnvironmentType:
		return &EnvironmentProvider{prefix: location}, nil
	case KeyringType:
		return &KeyringProvider{service: location}, nil
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", kind)
	}
}

// EnvironmentProvider maps secret "github" to the variable <prefix>GITHUB.
type EnvironmentProvider struct {
	prefix string
}

// GetSecret implements Provider.
func (p *EnvironmentProvider) GetSecret(name string) (Secret, error) {
	key := p.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return nil, fmt.Errorf("%w: %s (environment variable %s)", custom_errors.ErrSecretNotFound, name, key)
	}
	return parse(value), nil
}

// KeyringProvider reads secrets stored under a keyring service, one entry per secret name.
type KeyringProvider struct {
	service string
}

// GetSecret implements Provider.
func (p *KeyringProvider) GetSecret(name string) (Secret, error) {
	value, err := keyring.Get(p.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s (keyring service %s)", custom_errors.ErrSecretNotFound, name, p.service)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s from keyring: %w", name, err)
	}
	return parse(value), nil
}

// parse turns a JSON object into its top-level fields. Anything else is kept whole under ValueField.
func parse(value string) Secret {
	trimmed := strings.TrimSpace(value)
	if !gjson.Valid(trimmed) {
		return Secret{ValueField: value}
	}
	doc := gjson.Parse(trimmed)
	if !doc.IsObject() {
		return Secret{ValueField: value}
	}

	secret := Secret{}
	doc.ForEach(func(key, field gjson.Result) bool {
		secret[key.String()] = field.String()
		return true
	})
	return secret
}
