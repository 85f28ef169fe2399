// Package registry loads the record-type catalogue: which record types the
// engine serves and which endpoints each one lives behind. New record types
// are added by configuration, not code.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/justiceops/recordsync/internal/gateway"
)

// RecordType is one configured record type.
type RecordType struct {
	// Name tags queue messages, telemetry and API routes, e.g. "court-cases".
	Name string `yaml:"name"`

	// PageSize overrides the engine default for this type's bulk runs.
	PageSize int `yaml:"pageSize,omitempty"`

	Source SourceConfig `yaml:"source"`
	Target TargetConfig `yaml:"target"`
}

// SourceConfig holds the legacy system's read endpoints for one type.
type SourceConfig struct {
	// BaseURL overrides the engine-wide source base URL when set.
	BaseURL         string `yaml:"baseUrl,omitempty"`
	CountPath       string `yaml:"countPath"`
	IDsPath         string `yaml:"idsPath"`
	FetchPath       string `yaml:"fetchPath"`
	ByContainerPath string `yaml:"byContainerPath,omitempty"`
	ParentIDKey     string `yaml:"parentIdKey,omitempty"`
	ContainerIDKey  string `yaml:"containerIdKey,omitempty"`
}

// TargetConfig holds the replacement service's write endpoints for one type.
type TargetConfig struct {
	BaseURL    string `yaml:"baseUrl,omitempty"`
	CreatePath string `yaml:"createPath"`
	RecordPath string `yaml:"recordPath"`
	MovePath   string `yaml:"movePath,omitempty"`
}

// Catalogue is the parsed record-type file.
type Catalogue struct {
	RecordTypes []RecordType `yaml:"recordTypes"`
}

// Load reads and validates a record-type catalogue file.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record types: %w", err)
	}
	return Parse(data)
}

// Parse validates a record-type catalogue document.
func Parse(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse record types: %w", err)
	}
	if len(c.RecordTypes) == 0 {
		return nil, fmt.Errorf("record types: no recordTypes defined")
	}

	seen := make(map[string]struct{}, len(c.RecordTypes))
	for i, rt := range c.RecordTypes {
		if rt.Name == "" {
			return nil, fmt.Errorf("record type %d: name is required", i)
		}
		if _, dup := seen[rt.Name]; dup {
			return nil, fmt.Errorf("record type %q: duplicate name", rt.Name)
		}
		seen[rt.Name] = struct{}{}

		if rt.Source.CountPath == "" || rt.Source.IDsPath == "" || rt.Source.FetchPath == "" {
			return nil, fmt.Errorf("record type %q: source countPath, idsPath and fetchPath are required", rt.Name)
		}
		if rt.Target.CreatePath == "" || rt.Target.RecordPath == "" {
			return nil, fmt.Errorf("record type %q: target createPath and recordPath are required", rt.Name)
		}
	}
	return &c, nil
}

// Get returns one record type by name.
func (c *Catalogue) Get(name string) (RecordType, bool) {
	for _, rt := range c.RecordTypes {
		if rt.Name == name {
			return rt, true
		}
	}
	return RecordType{}, false
}

// Names lists the configured record type names in file order.
func (c *Catalogue) Names() []string {
	names := make([]string, len(c.RecordTypes))
	for i, rt := range c.RecordTypes {
		names[i] = rt.Name
	}
	return names
}

// Endpoints converts the source and target path configuration into the
// gateway's endpoint set.
func (rt RecordType) Endpoints() gateway.Endpoints {
	return gateway.Endpoints{
		CountPath:       rt.Source.CountPath,
		IDsPath:         rt.Source.IDsPath,
		FetchPath:       rt.Source.FetchPath,
		ByContainerPath: rt.Source.ByContainerPath,
		ParentIDKey:     rt.Source.ParentIDKey,
		ContainerIDKey:  rt.Source.ContainerIDKey,
		CreatePath:      rt.Target.CreatePath,
		RecordPath:      rt.Target.RecordPath,
		MovePath:        rt.Target.MovePath,
	}
}
