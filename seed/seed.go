package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"gopkg.in/yaml.v3"
)

/* Declarative endpoint registrations from a YAML file
 * Applying a file is idempotent: an endpoint is matched by owner and URL,
 * updated when it exists and registered otherwise
 */

// File represents the structure of the seed YAML file
type File struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig represents a single endpoint in the YAML file
type EndpointConfig struct {
	Name        string              `yaml:"name"`
	OwnerID     string              `yaml:"owner_id"`
	URL         string              `yaml:"url"`
	Events      []string            `yaml:"events"`
	Active      *bool               `yaml:"active"` // Default: true
	Headers     map[string]string   `yaml:"headers"`
	RetryPolicy webhook.PolicyInput `yaml:",inline"`
}

func (c EndpointConfig) input() webhook.EndpointInput {
	return webhook.EndpointInput{
		URL:        c.URL,
		EventTypes: c.Events,
		Policy:     c.RetryPolicy,
		Headers:    c.Headers,
		Active:     c.Active,
	}
}

// Validate checks a single entry without touching storage
func (c EndpointConfig) Validate(defaults webhook.Policy) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.TrimSpace(c.OwnerID) == "" {
		return fmt.Errorf("owner_id cannot be empty for endpoint %s", c.Name)
	}
	if err := webhook.ValidateInput(c.input(), defaults); err != nil {
		return fmt.Errorf("endpoint %s: %w", c.Name, err)
	}
	return nil
}

// Loader holds the loaded endpoint configurations
type Loader struct {
	defaults  webhook.Policy
	endpoints []EndpointConfig
}

// NewLoader creates a loader validating policies against defaults
func NewLoader(defaults webhook.Policy) *Loader {
	return &Loader{defaults: defaults}
}

// Load reads, parses and validates the seed file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}
	return l.Parse(data)
}

// Parse validates every entry; names must be unique
func (l *Loader) Parse(data []byte) error {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing seed YAML: %w", err)
	}

	seen := make(map[string]bool, len(file.Endpoints))
	for _, ec := range file.Endpoints {
		if err := ec.Validate(l.defaults); err != nil {
			return fmt.Errorf("validating endpoint: %w", err)
		}
		if seen[ec.Name] {
			return fmt.Errorf("duplicate endpoint name: %s", ec.Name)
		}
		seen[ec.Name] = true
	}

	l.endpoints = file.Endpoints
	return nil
}

// List returns the loaded endpoints in file order
func (l *Loader) List() []EndpointConfig {
	out := make([]EndpointConfig, len(l.endpoints))
	copy(out, l.endpoints)
	return out
}

// Outcome of applying one entry
type Outcome string

const (
	Created Outcome = "created"
	Updated Outcome = "updated"
)

// Result reports what Apply did for one entry. Secret is set only for
// newly created endpoints.
type Result struct {
	Name       string
	EndpointID string
	Outcome    Outcome
	Secret     string
}

// Registrar is the subset of the registry a seed run needs
type Registrar interface {
	Register(ctx context.Context, ownerID string, in webhook.EndpointInput) (webhook.Registered, error)
	List(ctx context.Context, ownerID string) ([]webhook.Endpoint, error)
	Update(ctx context.Context, id string, who webhook.Identity, patch webhook.EndpointPatch) (webhook.Endpoint, error)
}

// Apply registers or updates every loaded endpoint
func (l *Loader) Apply(ctx context.Context, reg Registrar) ([]Result, error) {
	results := make([]Result, 0, len(l.endpoints))

	for _, ec := range l.endpoints {
		existing, err := reg.List(ctx, ec.OwnerID)
		if err != nil {
			return results, fmt.Errorf("listing endpoints of %s: %w", ec.OwnerID, err)
		}

		var match *webhook.Endpoint
		for i := range existing {
			if existing[i].URL == strings.TrimSpace(ec.URL) {
				match = &existing[i]
				break
			}
		}

		if match == nil {
			r, err := reg.Register(ctx, ec.OwnerID, ec.input())
			if err != nil {
				return results, fmt.Errorf("registering %s: %w", ec.Name, err)
			}
			results = append(results, Result{Name: ec.Name, EndpointID: r.Endpoint.ID, Outcome: Created, Secret: r.Secret})
			continue
		}

		active := ec.Active == nil || *ec.Active
		policy := ec.RetryPolicy
		headers := ec.Headers
		if headers == nil {
			headers = map[string]string{}
		}
		ep, err := reg.Update(ctx, match.ID, webhook.Identity{OwnerID: ec.OwnerID}, webhook.EndpointPatch{
			EventTypes: ec.Events,
			Policy:     &policy,
			Headers:    headers,
			Active:     &active,
		})
		if err != nil {
			return results, fmt.Errorf("updating %s: %w", ec.Name, err)
		}
		results = append(results, Result{Name: ec.Name, EndpointID: ep.ID, Outcome: Updated})
	}

	return results, nil
}
