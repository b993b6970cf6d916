// Package catalog loads agent capabilities from a YAML file and keeps the
// engine registry in sync with it.
//
// Catalog format:
//
//	agents:
//	  - id: writer-1
//	    name: Writer
//	    category: content
//	    cost_per_call: 50
//	    trust_score: 90
//	    success_rate: 85
//	    specializations: [summarize, blog]
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

const maxCatalogSize = 1024 * 1024

// ErrInvalidCatalog wraps every catalog parse or validation failure.
var ErrInvalidCatalog = errors.New("invalid agent catalog")

// Registrar is the part of the engine a catalog writes to.
type Registrar interface {
	RegisterAgent(ctx context.Context, capability orchestrator.AgentCapability) error
}

// Load reads and validates the catalog at path.
func Load(path string) ([]orchestrator.AgentCapability, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxCatalogSize+1))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if len(content) > maxCatalogSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidCatalog, path, maxCatalogSize)
	}
	return Parse(content)
}

// Parse decodes and validates a YAML catalog.
func Parse(content []byte) ([]orchestrator.AgentCapability, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	var agents []orchestrator.AgentCapability
	if err := k.Unmarshal("agents", &agents); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := validate(agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func validate(agents []orchestrator.AgentCapability) error {
	seen := make(map[string]bool, len(agents))
	for i, a := range agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: agent %d: %v", ErrInvalidCatalog, i, err)
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate agent id %q", ErrInvalidCatalog, a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// Apply registers every agent in order. Agents already registered are
// overwritten and their learning history reset.
func Apply(ctx context.Context, reg Registrar, agents []orchestrator.AgentCapability) error {
	for _, a := range agents {
		if err := reg.RegisterAgent(ctx, a); err != nil {
			return fmt.Errorf("register %s: %w", a.ID, err)
		}
	}
	return nil
}

// LoadAndApply loads the catalog at path and registers it, returning the
// number of agents registered.
func LoadAndApply(ctx context.Context, path string, reg Registrar) (int, error) {
	agents, err := Load(path)
	if err != nil {
		return 0, err
	}
	if err := Apply(ctx, reg, agents); err != nil {
		return 0, err
	}
	return len(agents), nil
}
