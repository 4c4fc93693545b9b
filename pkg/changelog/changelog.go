// package changelog renders release notes from reconciled commits.
//
// Commits are grouped into sections by label, sections with the same
// rendered title are merged, and every piece of text goes through a hook so
// callers can restyle the output without re-implementing the grouping.
package changelog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/hooks"
	"github.com/open-sauced/pizza/release/pkg/insights"
	"github.com/open-sauced/pizza/release/pkg/semver"
)

// DefaultBots are automation accounts whose release notes are never copied
var DefaultBots = []string{
	"renovate-bot",
	"renovate[bot]",
	"dependabot[bot]",
	"dependabot-preview[bot]",
	"greenkeeper[bot]",
}

// GitHub logins: alphanumerics and single inner hyphens, optionally an app
// "[bot]" suffix
var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}(?:\[bot\])?$`)

// Placeholder login GitHub reports for commits with unknown emails
const invalidEmailUsername = "invalid-email-address"

// TitleContext is handed to RenderTitle taps
type TitleContext struct {
	// Key is the section key: a release type or a changelog-only label name
	Key   string
	Label semver.LabelDefinition
}

// AuthorContext is handed to RenderAuthor and RenderAuthorLine taps
type AuthorContext struct {
	Author insights.Author
	Commit *insights.Commit

	// Credit is the output of RenderAuthor. It is empty for RenderAuthor itself.
	Credit string
}

// Hooks are the extension points of a Composer. Taps run in registration order.
type Hooks struct {
	// RenderTitle is seeded with the label's configured title
	RenderTitle hooks.Waterfall[string, TitleContext]

	// RenderLine is seeded with the default bullet line of a commit
	RenderLine hooks.Waterfall[string, *insights.Commit]

	// RenderAuthor is seeded with the default credit of one author. An
	// empty result omits the author.
	RenderAuthor hooks.Waterfall[string, AuthorContext]

	// RenderAuthorLine is seeded with the default line of the authors block
	RenderAuthorLine hooks.Waterfall[string, AuthorContext]

	// OmitReleaseNotes suppresses the extracted notes of a commit
	OmitReleaseNotes hooks.Veto[*insights.Commit]
}

// Options configure a Composer
type Options struct {
	Owner string
	Repo  string

	// BaseURL is the web URL of the repository. Defaults to the github.com
	// URL of Owner/Repo.
	BaseURL string

	// HostURL is the web root user profiles live under. Defaults to https://github.com.
	HostURL string

	Labels []semver.LabelDefinition
	Bots   []string
}

// Section is a titled group of commits
type Section struct {
	Key     string            `json:"key" yaml:"key"`
	Title   string            `json:"title" yaml:"title"`
	Commits []insights.Commit `json:"commits" yaml:"commits"`

	rank sectionRank
}

type sectionRank struct {
	level int
	label int
}

func (r sectionRank) less(o sectionRank) bool {
	if r.level != o.level {
		return r.level < o.level
	}
	return r.label < o.label
}

// Document is the rendered changelog and the fragments it was built from
type Document struct {
	Markdown    string   `json:"markdown" yaml:"markdown"`
	Sections    []string `json:"sections" yaml:"sections"`
	Authors     []string `json:"authors" yaml:"authors"`
	AuthorLines []string `json:"authorLines" yaml:"authorLines"`
}

// Composer renders changelogs
type Composer struct {
	Hooks   *Hooks
	options Options
	logger  *zap.SugaredLogger
}

// NewComposer returns a Composer with the default hooks loaded. The bot
// allowlist veto is the first OmitReleaseNotes tap.
func NewComposer(options Options, logger *zap.SugaredLogger) *Composer {
	if options.BaseURL == "" {
		options.BaseURL = fmt.Sprintf("https://github.com/%s/%s", options.Owner, options.Repo)
	}
	options.BaseURL = strings.TrimSuffix(options.BaseURL, "/")
	if options.HostURL == "" {
		options.HostURL = "https://github.com"
	}
	options.HostURL = strings.TrimSuffix(options.HostURL, "/")
	if options.Labels == nil {
		options.Labels = semver.DefaultLabels
	}
	if !hasTitledPatch(options.Labels) {
		// Bare commits always need a section
		options.Labels = append(append([]semver.LabelDefinition(nil), options.Labels...), semver.DefaultLabels[2])
	}
	if options.Bots == nil {
		options.Bots = DefaultBots
	}

	c := &Composer{
		Hooks:   &Hooks{},
		options: options,
		logger:  logger,
	}
	c.Hooks.OmitReleaseNotes.Tap("bots", c.isBotChange)

	return c
}

func (c *Composer) isBotChange(commit *insights.Commit) bool {
	isBot := func(login string) bool {
		for _, bot := range c.options.Bots {
			if login != "" && strings.EqualFold(login, bot) {
				return true
			}
		}
		return false
	}

	if commit.PullRequest != nil && isBot(commit.PullRequest.Author) {
		return true
	}
	for _, author := range commit.Authors {
		if isBot(author.Username) {
			return true
		}
	}
	return false
}

// Sections groups commits into ordered sections. Commits of the same change
// request collapse into one entry placed at the first of them.
func (c *Composer) Sections(commits []insights.Commit) []Section {
	entries := dedupe(commits)

	bySection := map[string]*Section{}
	var order []*Section

	titles := map[int]string{}
	for _, entry := range entries {
		idx := c.sectionLabel(&entry)
		label := c.options.Labels[idx]

		title, ok := titles[idx]
		if !ok {
			title = c.Hooks.RenderTitle.Call(label.Title, TitleContext{Key: label.SectionKey(), Label: label})
			titles[idx] = title
		}

		rank := c.rankOf(idx)
		section, ok := bySection[title]
		if !ok {
			section = &Section{Key: label.SectionKey(), Title: title, rank: rank}
			bySection[title] = section
			order = append(order, section)
		} else if rank.less(section.rank) {
			section.Key = label.SectionKey()
			section.rank = rank
		}
		section.Commits = append(section.Commits, entry)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].rank.less(order[j].rank)
	})

	sections := make([]Section, 0, len(order))
	for _, s := range order {
		sections = append(sections, *s)
	}
	return sections
}

// sectionLabel returns the index of the label definition a commit is filed
// under: the first titled definition matching the commit, scanning release
// types in priority order and then changelog-only labels in declared order.
// Everything else falls back to the first patch definition.
func (c *Composer) sectionLabel(commit *insights.Commit) int {
	for _, level := range semver.Priority {
		for i, label := range c.options.Labels {
			if label.ReleaseType == level && label.Title != "" && commit.HasLabel(label.Name) {
				return i
			}
		}
	}
	for i, label := range c.options.Labels {
		if (label.ReleaseType == semver.None || label.ReleaseType == "") && label.Title != "" && commit.HasLabel(label.Name) {
			return i
		}
	}
	return c.patchLabel()
}

func (c *Composer) patchLabel() int {
	for i, label := range c.options.Labels {
		if label.ReleaseType == semver.Patch && label.Title != "" {
			return i
		}
	}
	return len(c.options.Labels) - 1
}

func (c *Composer) rankOf(idx int) sectionRank {
	label := c.options.Labels[idx]
	for level, l := range semver.Priority {
		if label.ReleaseType == l {
			return sectionRank{level: level, label: idx}
		}
	}
	return sectionRank{level: len(semver.Priority), label: idx}
}

// dedupe merges commits sharing a change request number into the first of
// them. Labels and authors of later commits are folded in.
func dedupe(commits []insights.Commit) []insights.Commit {
	var out []insights.Commit
	seen := map[int]int{}

	for _, commit := range commits {
		number := commit.PRNumber()
		if number == 0 {
			out = append(out, commit.Clone())
			continue
		}

		if i, ok := seen[number]; ok {
			out[i].AddLabels(commit.Labels...)
			for _, author := range commit.Authors {
				out[i].AddAuthor(author)
			}
			continue
		}

		seen[number] = len(out)
		out = append(out, commit.Clone())
	}

	return out
}

// GenerateReleaseNotes renders the changelog of commits
func (c *Composer) GenerateReleaseNotes(commits []insights.Commit) Document {
	sections := c.Sections(commits)
	doc := Document{
		Sections:    []string{},
		Authors:     []string{},
		AuthorLines: []string{},
	}

	var blocks []string

	if notes := c.releaseNotesBlock(sections); notes != "" {
		blocks = append(blocks, notes)
	}

	var credited []insights.Author
	for _, section := range sections {
		lines := []string{"#### " + section.Title, ""}

		for i := range section.Commits {
			commit := &section.Commits[i]

			var credits []string
			for _, author := range commit.Authors {
				credit := c.Hooks.RenderAuthor.Call(c.defaultCredit(author, commit), AuthorContext{Author: author, Commit: commit})
				if credit == "" || containsString(credits, credit) {
					continue
				}
				credits = append(credits, credit)

				if !containsAuthor(credited, author) && !containsString(doc.Authors, credit) {
					credited = append(credited, author)
					line := c.Hooks.RenderAuthorLine.Call(defaultAuthorLine(author, credit), AuthorContext{Author: author, Commit: commit, Credit: credit})
					doc.Authors = append(doc.Authors, credit)
					doc.AuthorLines = append(doc.AuthorLines, line)
				}
			}

			lines = append(lines, c.Hooks.RenderLine.Call(c.defaultLine(commit, credits), commit))
		}

		doc.Sections = append(doc.Sections, section.Title)
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	if len(doc.AuthorLines) > 0 {
		lines := []string{fmt.Sprintf("#### Authors: %d", len(doc.AuthorLines)), ""}
		for _, line := range doc.AuthorLines {
			lines = append(lines, "- "+line)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	doc.Markdown = strings.Join(blocks, "\n\n")
	c.logger.Debugf("Rendered %d sections and %d authors", len(doc.Sections), len(doc.AuthorLines))

	return doc
}

func (c *Composer) releaseNotesBlock(sections []Section) string {
	var parts []string

	for _, section := range sections {
		for i := range section.Commits {
			commit := &section.Commits[i]
			if commit.PullRequest == nil || commit.PullRequest.Body == "" {
				continue
			}

			notes := ExtractReleaseNotes(commit.PullRequest.Body)
			if notes == "" {
				continue
			}
			if c.Hooks.OmitReleaseNotes.Call(commit) {
				c.logger.Debugf("Omitting release notes of #%d", commit.PullRequest.Number)
				continue
			}

			parts = append(parts, fmt.Sprintf("#### %s (%s)\n\n%s", commit.Subject, c.prLink(commit.PullRequest.Number), notes))
		}
	}

	if len(parts) == 0 {
		return ""
	}

	return "### Release Notes\n\n" + strings.Join(parts, "\n\n") + "\n\n---"
}

func (c *Composer) prLink(number int) string {
	return fmt.Sprintf("[#%d](%s/pull/%d)", number, c.options.BaseURL, number)
}

func (c *Composer) defaultLine(commit *insights.Commit, credits []string) string {
	line := "- " + commit.Subject
	if commit.PullRequest != nil && commit.PullRequest.Number > 0 {
		line += " " + c.prLink(commit.PullRequest.Number)
	} else if commit.Hash != "" {
		line += fmt.Sprintf(" ([%s](%s/commit/%s))", commit.ShortHash(), c.options.BaseURL, commit.Hash)
	}
	if len(credits) > 0 {
		line += " (" + strings.Join(credits, " ") + ")"
	}
	return line
}

// defaultCredit links a valid username to its profile, else the name to the
// email. Authors with a placeholder username and no email of their own, or
// with nothing usable at all, get no credit.
func (c *Composer) defaultCredit(author insights.Author, commit *insights.Commit) string {
	if author.Username != "" {
		if ValidUsername(author.Username) {
			return fmt.Sprintf("[@%s](%s/%s)", author.Username, c.options.HostURL, author.Username)
		}
		if author.Email == "" {
			return ""
		}
	}

	email := author.Email
	if email == "" && (author.Name == "" || author.Name == commit.AuthorName) {
		email = commit.AuthorEmail
	}

	switch {
	case author.Name != "" && email != "":
		return fmt.Sprintf("[%s](mailto:%s)", author.Name, email)
	case email != "":
		return email
	default:
		return ""
	}
}

func defaultAuthorLine(author insights.Author, credit string) string {
	if author.Name == "" || strings.Contains(credit, author.Name) {
		return credit
	}
	return fmt.Sprintf("%s (%s)", author.Name, credit)
}

func hasTitledPatch(labels []semver.LabelDefinition) bool {
	for _, label := range labels {
		if label.ReleaseType == semver.Patch && label.Title != "" {
			return true
		}
	}
	return false
}

// ValidUsername reports whether username looks like a real forge login
func ValidUsername(username string) bool {
	if username == "" || username == invalidEmailUsername {
		return false
	}
	if strings.ContainsAny(username, "@ \t\n") {
		return false
	}
	return usernameRegex.MatchString(username)
}

func containsAuthor(authors []insights.Author, author insights.Author) bool {
	for _, a := range authors {
		if insights.SameAuthor(a, author) || a == author {
			return true
		}
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
