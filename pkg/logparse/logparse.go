// package logparse turns raw version control log entries into canonical
// insights.Commit records.
package logparse

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/hooks"
	"github.com/open-sauced/pizza/release/pkg/insights"
)

var (
	// A change request reference at the very end of a subject, e.g. "Fix bug (#123)"
	prReferenceRegex = regexp.MustCompile(`\s*\(#(\d+)\)\s*$`)

	// Co-authored-by: Jane Doe <jane@example.com>
	coAuthorRegex = regexp.MustCompile(`(?im)^\s*co-authored-by:\s*([^<\n]*?)\s*(?:<([^>\n]*)>)?\s*$`)
)

// Hooks are the extension points of a Normalizer
type Hooks struct {
	// ParseCommit transforms a commit after the built-in parsing. Taps may
	// rewrite any field.
	ParseCommit hooks.Waterfall[insights.Commit, struct{}]

	// OmitCommit drops a commit from the output when any tap returns true
	OmitCommit hooks.Veto[*insights.Commit]
}

// Normalizer converts raw entries into commits
type Normalizer struct {
	Hooks  *Hooks
	logger *zap.SugaredLogger
}

// NewNormalizer returns a Normalizer with empty hooks
func NewNormalizer(logger *zap.SugaredLogger) *Normalizer {
	return &Normalizer{
		Hooks:  &Hooks{},
		logger: logger,
	}
}

// NormalizeCommits converts entries in order. An entry without a subject is
// dropped with a warning and never fails the batch.
func (n *Normalizer) NormalizeCommits(entries []insights.RawEntry) []insights.Commit {
	commits := make([]insights.Commit, 0, len(entries))

	for _, entry := range entries {
		commit, ok := n.normalize(entry)
		if !ok {
			continue
		}

		commit = n.Hooks.ParseCommit.Call(commit, struct{}{})
		if n.Hooks.OmitCommit.Call(&commit) {
			n.logger.Debugf("Omitting commit by hook: %s %s", commit.ShortHash(), commit.Subject)
			continue
		}

		commits = append(commits, commit)
	}

	return commits
}

func (n *Normalizer) normalize(entry insights.RawEntry) (insights.Commit, bool) {
	subject, rest := splitMessage(entry.Subject)
	if subject == "" {
		n.logger.Warnf("Dropping log entry without a subject: %s", entry.Hash)
		return insights.Commit{}, false
	}

	body := strings.TrimSpace(strings.Join([]string{rest, entry.Body}, "\n"))

	commit := insights.Commit{
		Hash:        entry.Hash,
		Subject:     subject,
		Body:        body,
		AuthorName:  entry.AuthorName,
		AuthorEmail: entry.AuthorEmail,
		Date:        entry.Date,
	}
	commit.AddLabels(entry.Labels...)

	if number, stripped, ok := ParsePRNumber(subject); ok {
		commit.Subject = stripped
		commit.PullRequest = &insights.PullRequest{Number: number}
	}

	commit.AddAuthor(insights.Author{Name: entry.AuthorName, Email: entry.AuthorEmail})
	for _, coAuthor := range ParseCoAuthors(body) {
		commit.AddAuthor(coAuthor)
	}

	return commit, true
}

// ParsePRNumber extracts a trailing "(#123)" reference from subject. It
// returns the number and the subject with the reference removed.
func ParsePRNumber(subject string) (int, string, bool) {
	match := prReferenceRegex.FindStringSubmatchIndex(subject)
	if match == nil {
		return 0, subject, false
	}

	number, err := strconv.Atoi(subject[match[2]:match[3]])
	if err != nil {
		return 0, subject, false
	}

	return number, strings.TrimSpace(subject[:match[0]]), true
}

// ParseCoAuthors reads Co-authored-by trailers from a commit body
func ParseCoAuthors(body string) []insights.Author {
	var authors []insights.Author
	for _, match := range coAuthorRegex.FindAllStringSubmatch(body, -1) {
		author := insights.Author{
			Name:  strings.TrimSpace(match[1]),
			Email: strings.TrimSpace(match[2]),
		}
		if author.Name == "" && author.Email == "" {
			continue
		}
		authors = append(authors, author)
	}
	return authors
}

// splitMessage separates the first line from the rest. Subjects coming from
// some sources still carry the full message.
func splitMessage(message string) (string, string) {
	message = strings.TrimSpace(message)
	first, rest, _ := strings.Cut(message, "\n")
	return strings.TrimSpace(first), strings.TrimSpace(rest)
}
