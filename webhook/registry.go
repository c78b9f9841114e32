package webhook

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/retry"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
	"github.com/rs/zerolog"
)

/* Registry owns endpoint registrations
 * Uses pointer semantics as it's an API, not data
 */

// PolicyInput carries optional policy fields; zero values take the defaults
type PolicyInput struct {
	Strategy         string `json:"retry_policy" yaml:"retry_policy"`
	MaxRetries       int    `json:"max_retries" yaml:"max_retries"`
	BaseDelaySeconds int    `json:"base_delay_seconds" yaml:"base_delay_seconds"`
	TimeoutSeconds   int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// EndpointInput is a registration request
type EndpointInput struct {
	URL        string
	EventTypes []string
	Policy     PolicyInput
	Headers    map[string]string
	// Active defaults to true when nil
	Active *bool
}

// EndpointPatch is a partial update; nil fields are left untouched
type EndpointPatch struct {
	URL        *string
	EventTypes []string
	Policy     *PolicyInput
	Headers    map[string]string
	Active     *bool
}

// Registered is returned once, at creation or rotation. It is the only
// value that ever carries the plain signing secret.
type Registered struct {
	Endpoint Endpoint
	Secret   string
}

// RegistryUseCase defines the endpoint management operations
type RegistryUseCase interface {
	Register(ctx context.Context, ownerID string, in EndpointInput) (Registered, error)
	List(ctx context.Context, ownerID string) ([]Endpoint, error)
	Get(ctx context.Context, id string, who Identity) (Endpoint, error)
	Update(ctx context.Context, id string, who Identity, patch EndpointPatch) (Endpoint, error)
	Delete(ctx context.Context, id string, who Identity) error
	RotateSecret(ctx context.Context, id string, who Identity) (Registered, error)
	Logs(ctx context.Context, id string, who Identity, limit int) ([]LogEntry, error)
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryClock overrides the time source
func WithRegistryClock(c Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithDefaultPolicy overrides the policy used for unset registration fields
func WithDefaultPolicy(p Policy) RegistryOption {
	return func(r *Registry) { r.defaults = p }
}

// WithSecretGenerator overrides secret generation
func WithSecretGenerator(fn func() (string, error)) RegistryOption {
	return func(r *Registry) { r.newSecret = fn }
}

type Registry struct {
	Repo      Repository
	logger    zerolog.Logger
	clock     Clock
	defaults  Policy
	newSecret func() (string, error)
}

// NewRegistry creates a new registry with dependency injection
func NewRegistry(repo Repository, logger zerolog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		Repo:     repo,
		logger:   logger.With().Str("component", "registry").Logger(),
		clock:    SystemClock(),
		defaults: DefaultPolicy(),
		newSecret: func() (string, error) {
			s, err := signature.GenerateSecret(signature.DefaultSecretBytes)
			if err != nil {
				return "", err
			}
			return s.String(), nil
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) audit() auditor {
	return auditor{logs: r.Repo, clock: r.clock, logger: r.logger}
}

// Register validates and stores a new endpoint with a fresh secret
func (r *Registry) Register(ctx context.Context, ownerID string, in EndpointInput) (Registered, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Registered{}, validationErr("owner_id", "is required")
	}

	policy, err := resolvePolicy(r.defaults, in.Policy)
	if err != nil {
		return Registered{}, err
	}

	now := r.clock.Now()
	ep := Endpoint{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		URL:        strings.TrimSpace(in.URL),
		EventTypes: normalizePatterns(in.EventTypes),
		Active:     in.Active == nil || *in.Active,
		Policy:     policy,
		Headers:    copyHeaders(in.Headers),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := validateEndpoint(ep); err != nil {
		return Registered{}, err
	}

	secret, err := r.newSecret()
	if err != nil {
		return Registered{}, fmt.Errorf("generating signing secret: %w", err)
	}
	ep.SecretHint = RedactSecret(secret)

	if err := r.Repo.CreateEndpoint(ctx, ep, secret); err != nil {
		return Registered{}, fmt.Errorf("storing endpoint: %w", err)
	}

	r.audit().record(ctx, ep.ID, ActionCreated, OutcomeSuccess, map[string]any{
		"url":    ep.URL,
		"events": ep.EventTypes,
		"policy": ep.Policy,
	})
	r.logger.Info().Str("endpoint_id", ep.ID).Str("owner_id", ownerID).Msg("endpoint registered")

	return Registered{Endpoint: ep, Secret: secret}, nil
}

// List returns the owner's endpoints, most recent first
func (r *Registry) List(ctx context.Context, ownerID string) ([]Endpoint, error) {
	if ownerID == "" {
		return nil, validationErr("owner_id", "is required")
	}

	eps, err := r.Repo.ListEndpoints(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	return eps, nil
}

// Get returns one endpoint; the secret only appears redacted
func (r *Registry) Get(ctx context.Context, id string, who Identity) (Endpoint, error) {
	return r.load(ctx, id, who)
}

// Update applies a partial update
func (r *Registry) Update(ctx context.Context, id string, who Identity, patch EndpointPatch) (Endpoint, error) {
	ep, err := r.load(ctx, id, who)
	if err != nil {
		return Endpoint{}, err
	}

	changed := []string{}
	if patch.URL != nil {
		ep.URL = strings.TrimSpace(*patch.URL)
		changed = append(changed, "url")
	}
	if patch.EventTypes != nil {
		ep.EventTypes = normalizePatterns(patch.EventTypes)
		changed = append(changed, "events")
	}
	if patch.Policy != nil {
		policy, err := resolvePolicy(ep.Policy, *patch.Policy)
		if err != nil {
			return Endpoint{}, err
		}
		ep.Policy = policy
		changed = append(changed, "policy")
	}
	if patch.Headers != nil {
		ep.Headers = copyHeaders(patch.Headers)
		changed = append(changed, "headers")
	}
	if patch.Active != nil {
		ep.Active = *patch.Active
		changed = append(changed, "active")
	}

	if err := validateEndpoint(ep); err != nil {
		return Endpoint{}, err
	}

	ep.UpdatedAt = r.clock.Now()
	if err := r.Repo.UpdateEndpoint(ctx, ep); err != nil {
		return Endpoint{}, fmt.Errorf("updating endpoint: %w", notFound("endpoint", id, err))
	}

	r.audit().record(ctx, ep.ID, ActionUpdated, OutcomeSuccess, map[string]any{"changed": changed})
	return ep, nil
}

// Delete tombstones the endpoint. Its history is retained.
func (r *Registry) Delete(ctx context.Context, id string, who Identity) error {
	ep, err := r.load(ctx, id, who)
	if err != nil {
		return err
	}

	if err := r.Repo.TombstoneEndpoint(ctx, ep.ID, r.clock.Now()); err != nil {
		return fmt.Errorf("deleting endpoint: %w", notFound("endpoint", id, err))
	}

	r.audit().record(ctx, ep.ID, ActionDeleted, OutcomeSuccess, map[string]any{"url": ep.URL})
	r.logger.Info().Str("endpoint_id", ep.ID).Msg("endpoint deleted")
	return nil
}

// RotateSecret replaces the signing secret and returns the new one once
func (r *Registry) RotateSecret(ctx context.Context, id string, who Identity) (Registered, error) {
	ep, err := r.load(ctx, id, who)
	if err != nil {
		return Registered{}, err
	}

	secret, err := r.newSecret()
	if err != nil {
		return Registered{}, fmt.Errorf("generating signing secret: %w", err)
	}

	now := r.clock.Now()
	ep.SecretHint = RedactSecret(secret)
	ep.UpdatedAt = now
	if err := r.Repo.UpdateSecret(ctx, ep.ID, secret, ep.SecretHint, now); err != nil {
		return Registered{}, fmt.Errorf("rotating secret: %w", notFound("endpoint", id, err))
	}

	r.audit().record(ctx, ep.ID, ActionUpdated, OutcomeSuccess, map[string]any{"changed": []string{"secret"}})
	return Registered{Endpoint: ep, Secret: secret}, nil
}

// Logs returns the endpoint's audit log, newest first
func (r *Registry) Logs(ctx context.Context, id string, who Identity, limit int) ([]LogEntry, error) {
	if _, err := r.load(ctx, id, who); err != nil {
		return nil, err
	}

	logs, err := r.Repo.ListLogs(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	return logs, nil
}

func (r *Registry) load(ctx context.Context, id string, who Identity) (Endpoint, error) {
	ep, err := r.Repo.GetEndpoint(ctx, id)
	if err != nil {
		if nf := notFound("endpoint", id, err); nf != err {
			return Endpoint{}, nf
		}
		return Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}
	if err := authorize(who, ep); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

func resolvePolicy(base Policy, in PolicyInput) (Policy, error) {
	p := base
	if in.Strategy != "" {
		p.Strategy = retry.NewStrategy(in.Strategy)
	}
	if in.MaxRetries != 0 {
		p.MaxRetries = in.MaxRetries
	}
	if in.BaseDelaySeconds != 0 {
		p.BaseDelaySeconds = in.BaseDelaySeconds
	}
	if in.TimeoutSeconds != 0 {
		p.TimeoutSeconds = in.TimeoutSeconds
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// ValidateInput checks a registration request without storing it. Unset
// policy fields take the given defaults.
func ValidateInput(in EndpointInput, defaults Policy) error {
	policy, err := resolvePolicy(defaults, in.Policy)
	if err != nil {
		return err
	}
	return validateEndpoint(Endpoint{
		URL:        strings.TrimSpace(in.URL),
		EventTypes: normalizePatterns(in.EventTypes),
		Policy:     policy,
		Headers:    in.Headers,
	})
}

func validateEndpoint(ep Endpoint) error {
	if err := ValidateURL(ep.URL); err != nil {
		return err
	}

	if len(ep.EventTypes) == 0 {
		return validationErr("events", "must contain at least one event type")
	}
	for _, pattern := range ep.EventTypes {
		if err := payload.ValidatePattern(pattern); err != nil {
			return validationErr("events", err.Error())
		}
	}

	if err := ep.Policy.Validate(); err != nil {
		return err
	}

	for name := range ep.Headers {
		if strings.TrimSpace(name) == "" {
			return validationErr("headers", "names cannot be empty")
		}
		if IsReservedHeader(name) {
			return validationErr("headers", fmt.Sprintf("%q is reserved", name))
		}
	}
	return nil
}

// ValidateURL accepts only absolute https URLs with a host
func ValidateURL(raw string) error {
	if raw == "" {
		return validationErr("url", "is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return validationErr("url", "is not a valid URL")
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return validationErr("url", "must use https")
	}
	if u.Host == "" {
		return validationErr("url", "must include a host")
	}
	return nil
}

func normalizePatterns(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func copyHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
