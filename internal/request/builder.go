// Package request turns targets into request descriptors and executes them under a
// fixed deadline, classifying and logging every outcome.
package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"screepsapi/internal/models"
)

const (
	DefaultPublicHost  = "screeps.com"
	DefaultPublicPort  = 443
	DefaultPrivatePort = 21025
)

// HostSource yields the resolved private host. *discovery.HostCell satisfies it.
type HostSource interface {
	Get() (string, bool)
}

// Builder produces request descriptors for public and private targets.
type Builder struct {
	PublicHost  string
	PublicPort  int
	PrivatePort int
	hosts       HostSource
}

// NewBuilder creates a Builder with the default public address and private port.
func NewBuilder(hosts HostSource) *Builder {
	return &Builder{
		PublicHost:  DefaultPublicHost,
		PublicPort:  DefaultPublicPort,
		PrivatePort: DefaultPrivatePort,
		hosts:       hosts,
	}
}

// Build creates a descriptor for path. A nil body is sent as an empty JSON object.
// It fails with ErrResolutionPending for a private target whose host is unknown;
// callers wait for resolution first.
func (b *Builder) Build(target models.Target, path, method string, body any) (*models.RequestDescriptor, error) {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	d := &models.RequestDescriptor{
		ID:     uuid.NewString(),
		Kind:   target.Kind,
		Path:   path,
		Method: method,
		Header: make(http.Header),
		Body:   payload,
	}

	switch target.Kind {
	case models.KindPublic:
		d.Secure = true
		d.Host = b.PublicHost
		d.Port = b.PublicPort
	case models.KindPrivate:
		host, ok := b.hosts.Get()
		if !ok {
			return nil, ErrResolutionPending
		}
		d.Host = host
		d.Port = b.PrivatePort
	default:
		return nil, fmt.Errorf("unknown target kind %q", target.Kind)
	}

	d.Header.Set("Content-Type", "application/json")
	d.Header.Set("Content-Length", strconv.Itoa(len(payload)))
	if target.Username != "" {
		d.Header.Set("X-Username", target.Username)
	}
	if target.Token != "" {
		d.Header.Set("X-Token", target.Token)
	}
	return d, nil
}
