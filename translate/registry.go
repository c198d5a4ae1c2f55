package translate

import (
	"sort"
	"time"

	"github.com/minios-linux/lokitd/apperr"
)

// KeyFunc returns the API key for a provider ID, or "".
type KeyFunc func(providerID string) string

// Resolver picks the Translator for a request.
type Resolver interface {
	Resolve(provider, model string) (Translator, error)
}

// Registry resolves provider IDs to HTTP translators. All translators from
// one registry share a rate-limit pause.
type Registry struct {
	providers  map[string]Provider
	key        KeyFunc
	maxRetries int
	prompt     string
	rl         *rateLimitState
}

// RegistryOptions configures NewRegistry.
type RegistryOptions struct {
	// Key looks up API keys; nil means providers carry their own.
	Key          KeyFunc
	MaxRetries   int
	SystemPrompt string
}

// NewRegistry builds a registry over providers. Entries in providers
// override DefaultProviders field by field.
func NewRegistry(providers map[string]Provider, opts RegistryOptions) *Registry {
	all := DefaultProviders()
	for id, p := range providers {
		base, ok := all[id]
		if !ok {
			base = Provider{ID: id, Name: id, API: APIOpenAIChat, Timeout: 60 * time.Second}
		}
		if p.Name != "" {
			base.Name = p.Name
		}
		if p.API != "" {
			base.API = p.API
		}
		if p.BaseURL != "" {
			base.BaseURL = p.BaseURL
		}
		if p.APIKey != "" {
			base.APIKey = p.APIKey
		}
		if p.Model != "" {
			base.Model = p.Model
		}
		if p.Proxy != "" {
			base.Proxy = p.Proxy
		}
		if p.Timeout > 0 {
			base.Timeout = p.Timeout
		}
		all[id] = base
	}
	return &Registry{
		providers:  all,
		key:        opts.Key,
		maxRetries: opts.MaxRetries,
		prompt:     opts.SystemPrompt,
		rl:         &rateLimitState{},
	}
}

// IDs returns the known provider IDs, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Provider returns the resolved configuration for id.
func (r *Registry) Provider(id string) (Provider, bool) {
	p, ok := r.providers[id]
	if !ok {
		return Provider{}, false
	}
	if p.APIKey == "" && r.key != nil {
		p.APIKey = r.key(id)
	}
	return p, true
}

// Resolve returns a translator for provider. A non-empty model replaces the
// provider's default model.
func (r *Registry) Resolve(provider, model string) (Translator, error) {
	p, ok := r.Provider(provider)
	if !ok {
		return nil, apperr.Validationf("translate.Resolve", "unknown provider %q", provider)
	}
	if p.BaseURL == "" {
		return nil, apperr.Validationf("translate.Resolve", "provider %q has no base URL", provider)
	}
	if model != "" {
		p.Model = model
	}
	t := newHTTPTranslator(p, r.rl)
	t.MaxRetries = r.maxRetries
	t.SystemPrompt = r.prompt
	return t, nil
}
