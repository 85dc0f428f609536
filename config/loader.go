// Package config loads per-project YAML documents from a configs
// directory into schema.ProjectConfig values (§2.1, §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/WatchTurm/WatchTurm-control-room/internal/snaperr"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

// Load reads every *.yaml/*.yml file directly under dir, in sorted file
// name order, and decodes each into a schema.ProjectConfig. File name
// order becomes load order, which in turn fixes projects[] ordering in
// the output snapshot (§5).
func Load(dir string) ([]schema.ProjectConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, snaperr.New(snaperr.KindConfig, "config", fmt.Sprintf("read configs directory %s", dir), err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, snaperr.New(snaperr.KindConfig, "config", fmt.Sprintf("no project config files found under %s", dir), nil)
	}

	projects := make([]schema.ProjectConfig, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		cfg, err := decodeFile(path)
		if err != nil {
			return nil, err
		}
		if err := validate(cfg, path); err != nil {
			return nil, err
		}
		projects = append(projects, cfg)
	}
	return projects, nil
}

func decodeFile(path string) (schema.ProjectConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return schema.ProjectConfig{}, snaperr.New(snaperr.KindConfig, "config", fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg schema.ProjectConfig
	if err := dec.Decode(&cfg); err != nil {
		return schema.ProjectConfig{}, snaperr.New(snaperr.KindConfig, "config", fmt.Sprintf("decode %s", path), err)
	}
	return cfg, nil
}

func validate(cfg schema.ProjectConfig, path string) error {
	if cfg.Key == "" {
		return snaperr.New(snaperr.KindConfig, "config", fmt.Sprintf("%s: missing required field project.key", path), nil)
	}
	if cfg.VCSOwner == "" {
		return snaperr.New(snaperr.KindConfig, "config", fmt.Sprintf("%s: missing required field project.githubOwner", path), nil)
	}
	for _, svc := range cfg.Services {
		if svc.Key == "" {
			return snaperr.New(snaperr.KindConfig, "config", fmt.Sprintf("%s: service missing required key", path), nil)
		}
		if svc.InfraRepo == "" {
			return snaperr.New(snaperr.KindConfig, "config", fmt.Sprintf("%s: service %q missing required infraRepo", path, svc.Key), nil)
		}
	}
	return nil
}
