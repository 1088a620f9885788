// Package channel routes outbound messages to the tenant's configured
// webhook. Tenant configuration is read-only to this service.
package channel

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LeventeLantos/kindergarten-notify/internal/client"
	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

// TenantConfig is one tenant's channel settings. Templates maps a message
// type to the provider-side template name.
type TenantConfig struct {
	WebhookURL string            `yaml:"webhook_url"`
	Secret     string            `yaml:"secret"`
	Templates  map[string]string `yaml:"templates"`
}

type File struct {
	Tenants map[string]TenantConfig `yaml:"tenants"`
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read channels file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels file: %w", err)
	}
	for id, tc := range f.Tenants {
		if tc.WebhookURL == "" {
			return nil, fmt.Errorf("tenant %s: webhook_url is required", id)
		}
	}
	return f, nil
}

type route struct {
	client    *client.WebhookClient
	templates map[string]string
}

type Registry struct {
	fallback route
	tenants  map[string]route
}

// NewRegistry builds a registry whose tenants without an entry in f use
// the default webhook. f may be nil.
func NewRegistry(defaultURL, defaultSecret string, f *File) *Registry {
	r := &Registry{
		fallback: route{client: client.NewWebhookClient(defaultURL, client.WithSecret(defaultSecret))},
		tenants:  map[string]route{},
	}
	if f == nil {
		return r
	}
	for id, tc := range f.Tenants {
		r.tenants[id] = route{
			client:    client.NewWebhookClient(tc.WebhookURL, client.WithSecret(tc.Secret)),
			templates: tc.Templates,
		}
	}
	return r
}

func (r *Registry) Tenants() int {
	return len(r.tenants)
}

func (r *Registry) Send(ctx context.Context, m model.Message) (string, error) {
	rt, ok := r.tenants[m.TenantID]
	if !ok {
		rt = r.fallback
	}
	return rt.client.Deliver(ctx, client.Payload{
		Recipient:   m.Recipient,
		Message:     m.Content,
		MessageType: string(m.Type),
		Template:    rt.templates[string(m.Type)],
	})
}
