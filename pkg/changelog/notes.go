package changelog

import (
	"regexp"
	"strings"
)

var (
	// ATX heading, e.g. "## Release Notes ##"
	headingRegex = regexp.MustCompile(`^ {0,3}(#{1,6})(?:[ \t]+(.*?))?(?:[ \t]+#+)?[ \t]*$`)

	fenceRegex = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")
)

// ReleaseNotesHeading is the heading whose section is copied into the changelog
const ReleaseNotesHeading = "Release Notes"

// ExtractReleaseNotes returns the text under the first "Release Notes"
// heading of a change request description. Capture stops before the next
// heading of the same or a shallower level, so deeper sub-headings are
// kept. Headings inside fenced code blocks are ignored. It returns "" when
// the heading is absent or empty.
func ExtractReleaseNotes(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	level := 0
	start := -1
	end := len(lines)
	fence := ""

	for i, line := range lines {
		if fence != "" {
			if strings.HasPrefix(strings.TrimLeft(line, " "), fence) {
				fence = ""
			}
			continue
		}
		if m := fenceRegex.FindStringSubmatch(line); m != nil {
			fence = m[1][:3]
			continue
		}

		m := headingRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		depth := len(m[1])

		if start < 0 {
			if strings.EqualFold(strings.TrimSpace(m[2]), ReleaseNotesHeading) {
				level = depth
				start = i + 1
			}
			continue
		}

		if depth <= level {
			end = i
			break
		}
	}

	if start < 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}
