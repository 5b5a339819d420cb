package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PlanSpec is the declarative input a plan is built from. It is immutable
// once a plan exists and is persisted verbatim alongside the built graph.
type PlanSpec struct {
	Name         string      `yaml:"name" json:"name"`
	RepoPath     string      `yaml:"repoPath" json:"repoPath"`
	BaseBranch   string      `yaml:"baseBranch" json:"baseBranch"`
	TargetBranch string      `yaml:"targetBranch" json:"targetBranch"`
	WorktreeRoot string      `yaml:"worktreeRoot,omitempty" json:"worktreeRoot,omitempty"`
	MaxParallel  int         `yaml:"maxParallel,omitempty" json:"maxParallel,omitempty"`
	Jobs         []JobSpec   `yaml:"jobs" json:"jobs"`
	Groups       []GroupSpec `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// JobSpec declares one job. Dependencies reference other jobs by producerId.
type JobSpec struct {
	ProducerID       string   `yaml:"producerId" json:"producerId"`
	Name             string   `yaml:"name,omitempty" json:"name,omitempty"`
	Task             string   `yaml:"task" json:"task"`
	Work             string   `yaml:"work,omitempty" json:"work,omitempty"`
	Prechecks        string   `yaml:"prechecks,omitempty" json:"prechecks,omitempty"`
	Postchecks       string   `yaml:"postchecks,omitempty" json:"postchecks,omitempty"`
	Instructions     string   `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	BaseBranch       string   `yaml:"baseBranch,omitempty" json:"baseBranch,omitempty"`
	Dependencies     []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Group            string   `yaml:"group,omitempty" json:"group,omitempty"`
	ExpectsNoChanges bool     `yaml:"expectsNoChanges,omitempty" json:"expectsNoChanges,omitempty"`
	AutoHeal         bool     `yaml:"autoHeal,omitempty" json:"autoHeal,omitempty"`
}

// GroupSpec declares an explicit group tree. Groups referenced only by a
// job's group path are auto-created and need no entry here.
type GroupSpec struct {
	Name   string      `yaml:"name" json:"name"`
	Groups []GroupSpec `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// LoadPlanSpec reads a PlanSpec from a YAML file.
func LoadPlanSpec(path string) (*PlanSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan spec: %w", err)
	}
	spec := &PlanSpec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("failed to parse plan spec: %w", err)
	}
	return spec, nil
}
