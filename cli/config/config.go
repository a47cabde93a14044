package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/pithecene-io/taskmanager/types"
)

// Config represents a taskmanager.yaml configuration file.
// All values are optional. CLI flags always override config values.
type Config struct {
	Storage        StorageConfig                `yaml:"storage"`
	Scheduler      SchedulerConfig              `yaml:"scheduler"`
	Adapter        AdapterConfig                `yaml:"adapter"`
	Catalog        CatalogConfig                `yaml:"catalog"`
	FileServices   map[string]FileServiceConfig `yaml:"file_services"`
	TaskTypes      TaskTypesConfig              `yaml:"task_types"`
	Configurations []ConfigurationDef           `yaml:"configurations"`
	Batches        []BatchDef                   `yaml:"batches"`
}

// StorageConfig selects the run journal backend and the definitions
// archive. Backend is fs, s3 or memory (the default).
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	// Definitions is an archive file loaded over the configurations and
	// batches of this file. Bulk commands write their changes back to it.
	Definitions string `yaml:"definitions"`
}

// SchedulerConfig holds scheduler defaults.
type SchedulerConfig struct {
	Workers    int      `yaml:"workers"`
	Timezone   string   `yaml:"timezone"`
	RunTimeout Duration `yaml:"run_timeout"`
}

// Location resolves the configured timezone. Empty means local time.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// AdapterConfig holds completion notification settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	// Secret signs webhook bodies.
	Secret string `yaml:"secret,omitempty"`
	// LatestKeyPrefix and InterventionKey configure the redis adapter's
	// latest-event keys and intervention queue.
	LatestKeyPrefix string `yaml:"latest_key_prefix,omitempty"`
	InterventionKey string `yaml:"intervention_key,omitempty"`
}

// CatalogConfig seeds the layer catalog.
type CatalogConfig struct {
	Workspaces map[string]WorkspaceDef `yaml:"workspaces"`
}

// WorkspaceDef declares a workspace and its layers. Layer keys are local
// layer names; values are the initial layer properties.
type WorkspaceDef struct {
	Properties map[string]string            `yaml:"properties,omitempty"`
	Layers     map[string]map[string]string `yaml:"layers,omitempty"`
}

// FileServiceConfig declares a file service. Root selects a local
// directory; Bucket selects S3.
type FileServiceConfig struct {
	Description string `yaml:"description"`
	Root        string `yaml:"root,omitempty"`
	Bucket      string `yaml:"bucket,omitempty"`
	Prefix      string `yaml:"prefix,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// TaskTypesConfig holds registration settings of the built-in task types.
type TaskTypesConfig struct {
	TimeStamp TimeStampConfig `yaml:"timestamp"`
}

// TimeStampConfig names the layer properties the TimeStamp task writes.
type TimeStampConfig struct {
	DataProperty     string `yaml:"data_property"`
	MetadataProperty string `yaml:"metadata_property"`
}

// ConfigurationDef is the file form of a configuration.
type ConfigurationDef struct {
	Name        string            `yaml:"name"`
	Workspace   string            `yaml:"workspace,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Template    bool              `yaml:"template,omitempty"`
	Attributes  map[string]string `yaml:"attributes,omitempty"`
	Tasks       []TaskDef         `yaml:"tasks,omitempty"`
}

// TaskDef is the file form of a task.
type TaskDef struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

// BatchDef is the file form of a batch. Tasks are "configuration/task"
// references in execution order.
type BatchDef struct {
	Name          string   `yaml:"name"`
	Workspace     string   `yaml:"workspace,omitempty"`
	Configuration string   `yaml:"configuration,omitempty"`
	Description   string   `yaml:"description,omitempty"`
	Frequency     string   `yaml:"frequency,omitempty"`
	Enabled       bool     `yaml:"enabled"`
	Tasks         []string `yaml:"tasks"`
}

// Configuration converts the definition into the model type.
func (d ConfigurationDef) Configuration() (*types.Configuration, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("configuration without name")
	}
	cfg := &types.Configuration{
		Name:        d.Name,
		Workspace:   d.Workspace,
		Description: d.Description,
		Template:    d.Template,
	}
	for name, value := range d.Attributes {
		cfg.SetAttribute(name, value)
	}
	for _, td := range d.Tasks {
		if td.Name == "" || td.Type == "" {
			return nil, fmt.Errorf("configuration %s: task needs a name and a type", d.Name)
		}
		if _, dup := cfg.Tasks[td.Name]; dup {
			return nil, fmt.Errorf("configuration %s: duplicate task %s", d.Name, td.Name)
		}
		t := &types.Task{Name: td.Name, Type: td.Type}
		for name, value := range td.Parameters {
			t.SetParameter(name, value)
		}
		cfg.AddTask(t)
	}
	return cfg, nil
}

// Batch converts the definition into the model type.
func (d BatchDef) Batch() (*types.Batch, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("batch without name")
	}
	b := &types.Batch{
		Name:          d.Name,
		Workspace:     d.Workspace,
		Configuration: d.Configuration,
		Description:   d.Description,
		Frequency:     d.Frequency,
		Enabled:       d.Enabled,
	}
	for _, s := range d.Tasks {
		ref, err := types.ParseTaskRef(s)
		if err != nil {
			return nil, fmt.Errorf("batch %s: %w", d.Name, err)
		}
		b.AddElement(ref)
	}
	return b, nil
}

// FileServiceNames returns the declared file service names, sorted.
func (c *Config) FileServiceNames() []string {
	names := make([]string, 0, len(c.FileServices))
	for name := range c.FileServices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
