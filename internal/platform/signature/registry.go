package signature

import (
	"fmt"
	"strings"
)

// Scheme binds a provider to the header carrying its signature.
type Scheme struct {
	Header string
	Verify Verifier
}

// Known provider names.
const (
	ProviderMeta        = "meta"
	ProviderGreenAPI    = "greenapi"
	ProviderLegacy      = "legacy"
	ProviderWave        = "wave"
	ProviderOrangeMoney = "orange_money"
)

var defaultSchemes = map[string]Scheme{
	ProviderMeta:        {Header: "X-Hub-Signature-256", Verify: VerifyMeta},
	ProviderGreenAPI:    {Header: "X-Greenapi-Signature", Verify: VerifyGreenAPI},
	ProviderLegacy:      {Header: "X-Legacy-Signature", Verify: VerifyLegacy},
	ProviderWave:        {Header: "Wave-Signature", Verify: VerifyWave},
	ProviderOrangeMoney: {Header: "X-OM-Signature", Verify: VerifyOrangeMoney},
}

// Registry resolves the scheme and shared secret for a provider instance.
type Registry struct {
	schemes         map[string]Scheme
	providerSecrets map[string]string
	instanceSecrets map[string]string // "<provider>:<instance>"
}

// NewRegistry builds a registry over the built-in schemes. providerSecrets is
// keyed by provider name; instanceSecrets by "<provider>:<instance_id>".
func NewRegistry(providerSecrets, instanceSecrets map[string]string) *Registry {
	r := &Registry{
		schemes:         make(map[string]Scheme, len(defaultSchemes)),
		providerSecrets: providerSecrets,
		instanceSecrets: instanceSecrets,
	}
	for name, s := range defaultSchemes {
		r.schemes[name] = s
	}
	if r.providerSecrets == nil {
		r.providerSecrets = map[string]string{}
	}
	if r.instanceSecrets == nil {
		r.instanceSecrets = map[string]string{}
	}
	return r
}

func (r *Registry) Scheme(provider string) (Scheme, bool) {
	s, ok := r.schemes[strings.ToLower(provider)]
	return s, ok
}

// Secret returns the instance-specific secret if configured, otherwise the
// provider default. An empty result makes every verifier fail.
func (r *Registry) Secret(provider, instanceID string) string {
	provider = strings.ToLower(provider)
	if instanceID != "" {
		if s, ok := r.instanceSecrets[provider+":"+instanceID]; ok {
			return s
		}
	}
	return r.providerSecrets[provider]
}

// Verify runs the provider's scheme. headerValue is the raw value of
// Scheme.Header.
func (r *Registry) Verify(provider, instanceID string, rawBody []byte, headerValue string) (bool, error) {
	s, ok := r.Scheme(provider)
	if !ok {
		return false, fmt.Errorf("no signature scheme for provider %q", provider)
	}
	return s.Verify(rawBody, headerValue, r.Secret(provider, instanceID)), nil
}
