package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadOrdersByFileName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "zebra.yaml", "key: zebra\nname: Zebra\ngithubOwner: acme\nservices:\n  - key: api\n    infraRepo: infra\n")
	writeFile(t, dir, "apple.yaml", "key: apple\nname: Apple\ngithubOwner: acme\nservices:\n  - key: api\n    infraRepo: infra\n")

	projects, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	if projects[0].Key != "apple" || projects[1].Key != "zebra" {
		t.Fatalf("expected file-name order apple,zebra, got %s,%s", projects[0].Key, projects[1].Key)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", "key: acme\ngithubOwner: acme\nbogusField: true\nservices:\n  - key: api\n    infraRepo: infra\n")

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected decode error for unknown field")
	}
}

func TestLoadRejectsMissingKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", "githubOwner: acme\nservices:\n  - key: api\n    infraRepo: infra\n")

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected validation error for missing key")
	}
}

func TestLoadRejectsServiceMissingInfraRepo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", "key: acme\ngithubOwner: acme\nservices:\n  - key: api\n")

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected validation error for missing infraRepo")
	}
}

func TestLoadErrorsOnEmptyDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for directory with no project configs")
	}
}
