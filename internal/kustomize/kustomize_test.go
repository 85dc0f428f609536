package kustomize

import "testing"

const sampleYAML = `
resources:
  - base
images:
  - name: registry.example.com/payments
    newName: registry.example.com/payments
    newTag: payments-v1.2.3
  - name: registry.example.com/gateway
    newTag: v2.0.5
`

func TestParseExtractsComponents(t *testing.T) {
	components, err := Parse(sampleYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(components))
	}
	if components[0].ServiceKey != "payments" {
		t.Errorf("expected serviceKey derived from tag prefix, got %q", components[0].ServiceKey)
	}
	if components[0].BuildNumber != "3" {
		t.Errorf("expected build number 3, got %q", components[0].BuildNumber)
	}
	if components[1].ServiceKey != "gateway" {
		t.Errorf("expected serviceKey from image fallback, got %q", components[1].ServiceKey)
	}
}

func TestParseEmptyImages(t *testing.T) {
	components, err := Parse("resources:\n  - base\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(components) != 0 {
		t.Fatalf("expected no components, got %d", len(components))
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse("images: [not: valid: yaml:"); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}

func TestSignatureStableUnderInfraEdits(t *testing.T) {
	a, _ := Parse(sampleYAML)
	b, _ := Parse(`
resources:
  - base
  - extra-selector
images:
  - name: registry.example.com/payments
    newName: registry.example.com/payments
    newTag: payments-v1.2.3
  - name: registry.example.com/gateway
    newTag: v2.0.5
`)
	if Signature(a) != Signature(b) {
		t.Fatalf("expected infra-only edits to leave signature unchanged: %q vs %q", Signature(a), Signature(b))
	}
}

func TestSignatureChangesWithTag(t *testing.T) {
	a, _ := Parse(sampleYAML)
	b, _ := Parse(`
images:
  - name: registry.example.com/payments
    newName: registry.example.com/payments
    newTag: payments-v1.2.4
  - name: registry.example.com/gateway
    newTag: v2.0.5
`)
	if Signature(a) == Signature(b) {
		t.Fatalf("expected tag change to alter signature")
	}
}

func TestCandidatePaths(t *testing.T) {
	paths := CandidatePaths("prod")
	want := []string{
		"envs/prod/kustomization.yaml",
		"envs/prod/kustomization.yml",
		"overlays/prod/kustomization.yaml",
		"overlays/prod/kustomization.yml",
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d candidate paths, got %d", len(want), len(paths))
	}
	for i, p := range want {
		if paths[i] != p {
			t.Errorf("path[%d] = %q, want %q", i, paths[i], p)
		}
	}
}
