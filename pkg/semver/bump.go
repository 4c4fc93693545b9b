package semver

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"

	"github.com/open-sauced/pizza/release/pkg/insights"
)

// Options tunes how CalculateBump aggregates commits
type Options struct {
	// OnlyPublishWithReleaseLabel only releases when at least one commit
	// carries a release label.
	OnlyPublishWithReleaseLabel bool

	// SkipReleaseLabels are extra label names that behave like skip-release
	SkipReleaseLabels []string
}

// CommitLevel returns the first level, scanning Priority in order, whose
// labels intersect the commit's labels. A commit matching none of them is a
// patch.
func CommitLevel(commit *insights.Commit, versionMap map[Level][]string) Level {
	for _, level := range Priority {
		if commit.HasAnyLabel(versionMap[level]) {
			return level
		}
	}
	return Patch
}

// CalculateBump aggregates the bump for a range of commits. It returns the
// highest of major, minor and patch among the commits that are not
// skip-released, or "" when nothing should be released. Unlabelled commits
// count as a patch unless a skip label is the only severity label in the
// range.
func CalculateBump(commits []insights.Commit, labels []LabelDefinition, opts Options) Level {
	versionMap := VersionMap(labels)
	skipLabels := append(append([]string(nil), versionMap[SkipRelease]...), opts.SkipReleaseLabels...)
	releaseLabels := versionMap[Release]

	if opts.OnlyPublishWithReleaseLabel {
		hasRelease := false
		for i := range commits {
			if commits[i].HasAnyLabel(releaseLabels) {
				hasRelease = true
				break
			}
		}
		if !hasRelease {
			return ""
		}
	}

	var bump Level
	skipped, explicit := false, false
	for i := range commits {
		commit := &commits[i]
		if commit.HasAnyLabel(skipLabels) {
			skipped = true
			continue
		}

		level := CommitLevel(commit, versionMap)
		if level.rank() == 0 {
			// release and prerelease labelled commits still ship code
			level = Patch
		} else if commit.HasAnyLabel(versionMap[level]) {
			explicit = true
		}
		if level.rank() > bump.rank() {
			bump = level
		}
	}

	// A skip label is the only severity signal in the range
	if skipped && !explicit {
		return ""
	}

	return bump
}

// NextVersion increments current by level. The "v" prefix of current is
// kept. An empty level means no release and yields "".
func NextVersion(current string, level Level) (string, error) {
	if level == "" || level == SkipRelease {
		return "", nil
	}

	v, err := semver.NewVersion(current)
	if err != nil {
		return "", errors.Wrapf(err, "could not parse version %q", current)
	}

	var next semver.Version
	switch level {
	case Major:
		next = v.IncMajor()
	case Minor:
		next = v.IncMinor()
	case Prerelease:
		next, err = prereleaseOf(v)
		if err != nil {
			return "", err
		}
	default:
		next = v.IncPatch()
	}

	if strings.HasPrefix(current, "v") {
		return "v" + next.String(), nil
	}
	return next.String(), nil
}

// prereleaseOf moves a release to the next patch's first pre-release, or
// advances an existing numeric pre-release identifier.
func prereleaseOf(v *semver.Version) (semver.Version, error) {
	if v.Prerelease() == "" {
		next := v.IncPatch()
		return next.SetPrerelease("0")
	}

	parts := strings.Split(v.Prerelease(), ".")
	if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
		parts[len(parts)-1] = strconv.Itoa(n + 1)
	} else {
		parts = append(parts, "0")
	}

	return v.SetPrerelease(strings.Join(parts, "."))
}
