package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Trigger is one recurring goal registered with the cron runner.
type Trigger struct {
	Name     string // unique trigger name (e.g. "nightly-digest")
	Schedule string // cron expression, minute granularity
	Goal     string // goal text submitted to the coordinator
	Owner    string // recorded on the submitted task
	FromFile bool   // loaded from the triggers file; resynced and prunable
}

// registryName namespaces file-loaded triggers so a static trigger and a
// file trigger sharing a name never collide.
func (t Trigger) registryName() string {
	if t.FromFile {
		return "file:" + t.Name
	}
	return t.Name
}

// TriggerFile is the YAML document listing recurring goals.
type TriggerFile struct {
	Triggers []TriggerSpec `yaml:"triggers"`
}

// TriggerSpec is one entry in the triggers file.
type TriggerSpec struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Goal     string `yaml:"goal"`
	Owner    string `yaml:"owner"`
	Disabled bool   `yaml:"disabled"`
}

// LoadTriggerFile reads the YAML triggers file. A missing or empty file
// yields no triggers rather than an error, so a fresh install runs
// without one.
func LoadTriggerFile(path string) ([]TriggerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read triggers file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var parsed TriggerFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse triggers file: %w", err)
	}
	return parsed.Triggers, nil
}
