// Package kustomize parses the image-tag block of a kustomization.yaml
// (§4.3): the only shape this pipeline cares about is the `images` list
// that pins each service's container tag for an environment.
package kustomize

import (
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/WatchTurm/WatchTurm-control-room/internal/snaperr"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

// ExtractedComponent is one {serviceKey, image, tag, buildNumber} entry
// from a kustomization's images list (§4.3).
type ExtractedComponent struct {
	ServiceKey  string
	Image       string
	Tag         string
	BuildNumber string
}

type document struct {
	Images []struct {
		Name    string `yaml:"name"`
		NewName string `yaml:"newName"`
		NewTag  string `yaml:"newTag"`
	} `yaml:"images"`
}

var serviceKeyFromTagRe = regexp.MustCompile(`^(.+)-v\d+\.\d+\.\d+$`)

// Parse extracts the ordered component list from raw kustomization YAML
// text (§4.3). An empty or absent images block yields an empty slice, not
// an error; YAML that fails to decode returns a DataQuality error. The
// caller (the component assembler) treats either outcome as NO_TAG_FOUND.
func Parse(raw string) ([]ExtractedComponent, error) {
	var doc document
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, snaperr.New(snaperr.KindDataQuality, "kustomize", "parse kustomization yaml", err)
	}

	out := make([]ExtractedComponent, 0, len(doc.Images))
	for _, img := range doc.Images {
		image := img.NewName
		if image == "" {
			image = img.Name
		}
		if image == "" && img.NewTag == "" {
			continue
		}
		serviceKey := deriveServiceKey(img.NewTag, image)
		out = append(out, ExtractedComponent{
			ServiceKey:  serviceKey,
			Image:       image,
			Tag:         img.NewTag,
			BuildNumber: schema.ExtractBuildNumber(img.NewTag),
		})
	}
	return out, nil
}

// deriveServiceKey prefers the tag prefix ^(.+)-v\d+\.\d+\.\d+$ when
// present, else falls back to the last path segment of the image (§4.3).
func deriveServiceKey(tag, image string) string {
	if m := serviceKeyFromTagRe.FindStringSubmatch(tag); m != nil {
		return m[1]
	}
	if image == "" {
		return ""
	}
	segments := strings.Split(image, "/")
	return segments[len(segments)-1]
}

// Signature returns the tag signature of a kustomization: the sorted,
// pipe-joined set of normalized tags (§4.3). Two kustomizations with
// equal signatures are considered to have "no tag change" even if
// unrelated fields (resources, selectors) differ.
func Signature(components []ExtractedComponent) string {
	tags := make([]string, 0, len(components))
	seen := make(map[string]struct{}, len(components))
	for _, c := range components {
		norm := schema.NormalizeTag(c.Tag)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		tags = append(tags, norm)
	}
	sort.Strings(tags)
	return strings.Join(tags, "|")
}

// CandidatePaths returns the ordered list of kustomization paths to try
// for an environment (§4.3): first success wins, total exhaustion yields
// NotFound with warning NO_KUSTOMIZATION.
func CandidatePaths(env string) []string {
	return []string{
		"envs/" + env + "/kustomization.yaml",
		"envs/" + env + "/kustomization.yml",
		"overlays/" + env + "/kustomization.yaml",
		"overlays/" + env + "/kustomization.yml",
	}
}
