package schema

import (
	"regexp"
	"strings"
)

// Canonical deployment stages (§3 invariant: four canonical stages).
const (
	StageDev  = "DEV"
	StageQA   = "QA"
	StageUAT  = "UAT"
	StageProd = "PROD"
)

// NormalizeEnvKey trims and lowercases an env key. An empty result means
// "absent" — never treat "" as a real environment.
func NormalizeEnvKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

var tagDotVersionRe = regexp.MustCompile(`^(.*-v|v)\.(\d+\.\d+\.\d+)$`)

// NormalizeTag turns "v.X.Y.Z" into "vX.Y.Z" and "prefix-v.X.Y.Z" into
// "prefix-vX.Y.Z". Tags without the dotted-v form pass through unchanged.
// "" normalizes to "".
func NormalizeTag(tag string) string {
	if tag == "" {
		return ""
	}
	if m := tagDotVersionRe.FindStringSubmatch(tag); m != nil {
		return m[1] + m[2]
	}
	return tag
}

var buildNumberRe = regexp.MustCompile(`v\d+\.\d+\.(\d+)$`)

// ExtractBuildNumber returns the final numeric group of a tag matching
// v\d+\.\d+\.(\d+)$, or "" if the tag doesn't match.
func ExtractBuildNumber(tag string) string {
	m := buildNumberRe.FindStringSubmatch(tag)
	if m == nil {
		return ""
	}
	return m[1]
}

// DeriveStage maps a free-form environment name to one of the four
// canonical stages via case-insensitive substring match, in precedence
// order prod > uat > qa|green > DEV (§3, §8).
func DeriveStage(envName string) string {
	lower := strings.ToLower(envName)
	switch {
	case strings.Contains(lower, "prod"):
		return StageProd
	case strings.Contains(lower, "uat"):
		return StageUAT
	case strings.Contains(lower, "qa"), strings.Contains(lower, "green"):
		return StageQA
	default:
		return StageDev
	}
}

// NormalizeBaseRef strips refs/heads/, origin/ and heads/ prefixes from a
// branch reference (§3 PullRequest.baseRef normalization).
func NormalizeBaseRef(ref string) string {
	ref = strings.TrimPrefix(ref, "refs/heads/")
	ref = strings.TrimPrefix(ref, "origin/")
	ref = strings.TrimPrefix(ref, "heads/")
	return ref
}
