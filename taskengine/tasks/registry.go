// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package tasks

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTask is returned when an overlay references a task that is not in
// the static table.
var ErrUnknownTask = errors.New("unknown task")

// Registry maps task identifiers to their execution policy. It is built once
// and never mutated, so lookups need no locking.
type Registry struct {
	specs map[TaskID]TaskSpec
}

// NewRegistry returns a registry populated from the static policy table.
func NewRegistry() *Registry {
	return &Registry{specs: defaultSpecs()}
}

// Lookup returns the policy for task. A missing entry is a configuration
// error and must surface as unknown_task.
func (r *Registry) Lookup(task string) (TaskSpec, bool) {
	spec, ok := r.specs[TaskID(task)]
	if !ok {
		return TaskSpec{}, false
	}
	return spec.clone(), true
}

// Has reports whether task is a primary task.
func (r *Registry) Has(task string) bool {
	_, ok := r.specs[TaskID(task)]
	return ok
}

// Tasks returns the registered identifiers in a stable order.
func (r *Registry) Tasks() []TaskID {
	out := make([]TaskID, 0, len(r.specs))
	for _, id := range AllTasks {
		if _, ok := r.specs[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// SpecOverride adjusts a single task policy. Nil fields keep the static value.
type SpecOverride struct {
	MaxInputSize        *int         `yaml:"max_input_size,omitempty"`
	MaxOutputTokensHint *int         `yaml:"max_output_tokens_hint,omitempty"`
	DefaultQuality      *Quality     `yaml:"default_quality,omitempty"`
	CacheTTLSeconds     *int         `yaml:"cache_ttl_seconds,omitempty"`
	Batchable           *bool        `yaml:"batchable,omitempty"`
	SafetyLevel         *SafetyLevel `yaml:"safety_level,omitempty"`
}

// OverlayFile is the YAML layout accepted by LoadOverlay.
type OverlayFile struct {
	Tasks map[string]SpecOverride `yaml:"tasks"`
}

// NewRegistryWithOverrides returns a registry with overrides applied on top
// of the static table. Overrides can tune known tasks but never add new ones.
func NewRegistryWithOverrides(overrides map[string]SpecOverride) (*Registry, error) {
	specs := defaultSpecs()
	for name, o := range overrides {
		spec, ok := specs[TaskID(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
		}
		if o.MaxInputSize != nil {
			spec.MaxInputSize = *o.MaxInputSize
		}
		if o.MaxOutputTokensHint != nil {
			spec.MaxOutputTokensHint = intPtr(*o.MaxOutputTokensHint)
		}
		if o.DefaultQuality != nil {
			if !o.DefaultQuality.Valid() {
				return nil, fmt.Errorf("task %q: invalid default_quality %q", name, *o.DefaultQuality)
			}
			spec.DefaultQuality = *o.DefaultQuality
		}
		if o.CacheTTLSeconds != nil {
			if *o.CacheTTLSeconds <= 0 {
				spec.CacheTTLSeconds = nil
			} else {
				spec.CacheTTLSeconds = intPtr(*o.CacheTTLSeconds)
			}
		}
		if o.Batchable != nil {
			spec.Batchable = *o.Batchable
		}
		if o.SafetyLevel != nil {
			spec.SafetyLevel = *o.SafetyLevel
		}
		specs[TaskID(name)] = spec
	}
	return &Registry{specs: specs}, nil
}

// LoadOverlay reads a YAML overlay file and builds a registry from it.
func LoadOverlay(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task overlay %s: %w", path, err)
	}
	var file OverlayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse task overlay: %w", err)
	}
	return NewRegistryWithOverrides(file.Tasks)
}
