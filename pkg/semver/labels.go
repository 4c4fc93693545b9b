// package semver classifies commits by their labels and decides which
// semantic version bump a release should receive.
package semver

// Level is a severity key. Major, Minor and Patch raise the version. The
// remaining levels are control labels that steer whether a release happens.
type Level string

const (
	Major       Level = "major"
	Minor       Level = "minor"
	Patch       Level = "patch"
	SkipRelease Level = "skip-release"
	Release     Level = "release"
	Prerelease  Level = "prerelease"

	// None marks changelog-only labels (documentation, internal, ...).
	// Their section key is the label name.
	None Level = "none"
)

// Priority is the fixed order in which severities are scanned when deciding
// a commit's level and section.
var Priority = []Level{Major, Minor, Patch, SkipRelease, Release, Prerelease}

// IsKnown reports whether l is one of the priority levels or None
func (l Level) IsKnown() bool {
	if l == None {
		return true
	}
	for _, p := range Priority {
		if p == l {
			return true
		}
	}
	return false
}

// rank orders levels for aggregation. Only major, minor and patch rank.
func (l Level) rank() int {
	switch l {
	case Major:
		return 3
	case Minor:
		return 2
	case Patch:
		return 1
	default:
		return 0
	}
}

// LabelDefinition describes one forge label and how it affects the release
type LabelDefinition struct {
	Name        string `koanf:"name" json:"name" yaml:"name"`
	Title       string `koanf:"title" json:"title,omitempty" yaml:"title,omitempty"`
	Description string `koanf:"description" json:"description,omitempty" yaml:"description,omitempty"`
	ReleaseType Level  `koanf:"releaseType" json:"releaseType,omitempty" yaml:"releaseType,omitempty"`
}

// SectionKey is the key a label groups under: its release type, or its own
// name for changelog-only labels.
func (d LabelDefinition) SectionKey() string {
	if d.ReleaseType == None || d.ReleaseType == "" {
		return d.Name
	}
	return string(d.ReleaseType)
}

// DefaultLabels is the built-in label table. It is never mutated; use
// MergeLabels to derive a configured table.
var DefaultLabels = []LabelDefinition{
	{Name: "major", Title: "Major Change", Description: "Increment the major version when merged", ReleaseType: Major},
	{Name: "minor", Title: "Minor Change", Description: "Increment the minor version when merged", ReleaseType: Minor},
	{Name: "patch", Title: "Patch Change", Description: "Increment the patch version when merged", ReleaseType: Patch},
	{Name: "skip-release", Description: "Preserve the current version when merged", ReleaseType: SkipRelease},
	{Name: "release", Description: "Create a release when this pr is merged", ReleaseType: Release},
	{Name: "prerelease", Description: "Create a pre-release version when merged", ReleaseType: Prerelease},
	{Name: "internal", Title: "Internal", Description: "Changes only affect the internal API", ReleaseType: None},
	{Name: "documentation", Title: "Documentation", Description: "Changes only affect the documentation", ReleaseType: None},
}

// MergeLabels deep-merges user overrides over defaults by label name. A
// non-empty field on an override replaces the default's field. Labels named
// by the overrides come first, in declaration order, followed by the
// defaults nobody mentioned. Overrides with an unknown release type are
// dropped and reported through warn.
func MergeLabels(defaults, overrides []LabelDefinition, warn func(LabelDefinition)) []LabelDefinition {
	var declared []LabelDefinition
	position := map[string]int{}

	for _, o := range overrides {
		if o.Name == "" {
			continue
		}
		if !o.ReleaseType.IsKnown() && o.ReleaseType != "" {
			if warn != nil {
				warn(o)
			}
			continue
		}

		idx, ok := position[o.Name]
		if !ok {
			base, found := findDefinition(defaults, o.Name)
			if !found {
				base = LabelDefinition{Name: o.Name, ReleaseType: None}
			}
			idx = len(declared)
			position[o.Name] = idx
			declared = append(declared, base)
		}

		if o.Title != "" {
			declared[idx].Title = o.Title
		}
		if o.Description != "" {
			declared[idx].Description = o.Description
		}
		if o.ReleaseType != "" {
			declared[idx].ReleaseType = o.ReleaseType
		}
	}

	merged := make([]LabelDefinition, 0, len(declared)+len(defaults))
	merged = append(merged, declared...)
	for _, d := range defaults {
		if _, ok := position[d.Name]; !ok {
			merged = append(merged, d)
		}
	}

	return merged
}

func findDefinition(labels []LabelDefinition, name string) (LabelDefinition, bool) {
	for _, l := range labels {
		if l.Name == name {
			return l, true
		}
	}
	return LabelDefinition{}, false
}

// VersionMap groups label names by release level. Changelog-only labels are
// not included.
func VersionMap(labels []LabelDefinition) map[Level][]string {
	out := make(map[Level][]string)
	for _, l := range labels {
		if l.ReleaseType == None || l.ReleaseType == "" {
			continue
		}
		out[l.ReleaseType] = append(out[l.ReleaseType], l.Name)
	}
	return out
}
