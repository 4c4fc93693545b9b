package changelog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/open-sauced/pizza/release/pkg/insights"
	"github.com/open-sauced/pizza/release/pkg/semver"
)

const notesBody = `# Why

Some words

## Release Notes

Here is how you upgrade

### Things you should really know

Bam!?

## Todo

- [ ] add tests`

func newComposer(t *testing.T, labels []semver.LabelDefinition) *Composer {
	return NewComposer(Options{Owner: "foobar", Repo: "auto", Labels: labels}, zaptest.NewLogger(t).Sugar())
}

func commit(hash, subject string, number int, labels ...string) insights.Commit {
	c := insights.Commit{
		Hash:        hash,
		Subject:     subject,
		AuthorName:  "Adam Dierkens",
		AuthorEmail: "adam@dierkens.com",
		Authors:     []insights.Author{{Name: "Adam Dierkens", Email: "adam@dierkens.com"}},
	}
	if number > 0 {
		c.PullRequest = &insights.PullRequest{Number: number}
	}
	c.AddLabels(labels...)
	return c
}

func TestGenerateReleaseNotesSingleFeature(t *testing.T) {
	doc := newComposer(t, nil).GenerateReleaseNotes([]insights.Commit{
		commit("1", "Some Feature", 1234, "minor"),
	})

	assert.Equal(t, strings.Join([]string{
		"#### Minor Change",
		"",
		"- Some Feature [#1234](https://github.com/foobar/auto/pull/1234) ([Adam Dierkens](mailto:adam@dierkens.com))",
		"",
		"#### Authors: 1",
		"",
		"- [Adam Dierkens](mailto:adam@dierkens.com)",
	}, "\n"), doc.Markdown)
	assert.Equal(t, []string{"Minor Change"}, doc.Sections)
	assert.Equal(t, []string{"[Adam Dierkens](mailto:adam@dierkens.com)"}, doc.Authors)
}

func TestGenerateReleaseNotesDefaultsToPatch(t *testing.T) {
	commits := []insights.Commit{
		commit("1", "Some Feature", 1234),
		commit("2", "Third", 0, "patch"),
		commit("3", "Other", 1236, "someOtherNonConfigLabel"),
		commit("4", "Skipped", 1237, "skip-release"),
	}
	composer := newComposer(t, nil)

	sections := composer.Sections(commits)
	require.Len(t, sections, 1)
	assert.Len(t, sections[0].Commits, 4)

	doc := composer.GenerateReleaseNotes(commits)
	assert.Equal(t, []string{"Patch Change"}, doc.Sections)
	assert.Contains(t, doc.Markdown, "- Third ([2](https://github.com/foobar/auto/commit/2))")
	assert.Contains(t, doc.Markdown, "- Skipped [#1237]")
}

func TestGenerateReleaseNotesUsername(t *testing.T) {
	c := commit("1", "Some Feature", 1234, "minor")
	c.Authors[0].Username = "adam"

	doc := newComposer(t, nil).GenerateReleaseNotes([]insights.Commit{c})

	assert.Contains(t, doc.Markdown, "- Some Feature [#1234](https://github.com/foobar/auto/pull/1234) ([@adam](https://github.com/adam))")
	assert.Equal(t, []string{"Adam Dierkens ([@adam](https://github.com/adam))"}, doc.AuthorLines)
}

func TestGenerateReleaseNotesInvalidUsername(t *testing.T) {
	c := insights.Commit{
		Hash:        "1",
		Subject:     "Some Feature",
		AuthorName:  "none",
		Authors:     []insights.Author{{Name: "none", Username: "invalid-email-address"}},
		PullRequest: &insights.PullRequest{Number: 1234},
	}
	c.AddLabels("minor")

	doc := newComposer(t, nil).GenerateReleaseNotes([]insights.Commit{c})

	assert.Equal(t, "#### Minor Change\n\n- Some Feature [#1234](https://github.com/foobar/auto/pull/1234)", doc.Markdown)
	assert.Empty(t, doc.Authors)
}

func TestDefaultCredit(t *testing.T) {
	t.Parallel()

	composer := NewComposer(Options{Owner: "o", Repo: "r", HostURL: "https://github.custom.com/"}, zaptest.NewLogger(t).Sugar())
	raw := &insights.Commit{AuthorName: "none", AuthorEmail: "default@email.com"}

	tests := []struct {
		name   string
		author insights.Author
		want   string
	}{
		{name: "Valid username", author: insights.Author{Name: "Adam", Username: "adam"}, want: "[@adam](https://github.custom.com/adam)"},
		{name: "Bot username", author: insights.Author{Username: "renovate[bot]"}, want: "[@renovate[bot]](https://github.custom.com/renovate[bot])"},
		{name: "Placeholder username without email", author: insights.Author{Name: "none", Username: "invalid-email-address"}, want: ""},
		{name: "Placeholder username with email", author: insights.Author{Name: "Adam", Email: "adam@dierkens.com", Username: "invalid-email-address"}, want: "[Adam](mailto:adam@dierkens.com)"},
		{name: "Email shaped username", author: insights.Author{Username: "adam@dierkens.com"}, want: ""},
		{name: "Falls back to the commit email", author: insights.Author{Name: "none"}, want: "[none](mailto:default@email.com)"},
		{name: "Only an email", author: insights.Author{Email: "adam@dierkens.com"}, want: "adam@dierkens.com"},
		{name: "Co-author without email", author: insights.Author{Name: "Jane"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, composer.defaultCredit(tt.author, raw))
		})
	}
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("adam"))
	assert.True(t, ValidUsername("hipster-smith"))
	assert.True(t, ValidUsername("dependabot[bot]"))
	assert.False(t, ValidUsername(""))
	assert.False(t, ValidUsername("invalid-email-address"))
	assert.False(t, ValidUsername("-leading"))
	assert.False(t, ValidUsername("double--hyphen"))
	assert.False(t, ValidUsername("has space"))
}

func TestSectionOrder(t *testing.T) {
	defaults := map[string]semver.LabelDefinition{}
	for _, l := range semver.DefaultLabels {
		defaults[l.Name] = l
	}
	labels := []semver.LabelDefinition{
		defaults["documentation"],
		defaults["internal"],
		defaults["patch"],
		defaults["minor"],
		defaults["major"],
	}

	doc := newComposer(t, labels).GenerateReleaseNotes([]insights.Commit{
		commit("0a", "something", 0, "internal"),
		commit("0", "docs", 0, "documentation"),
		commit("1", "I was a push to master", 0, "patch"),
		commit("2", "First Feature", 1235, "minor"),
	})

	assert.Equal(t, []string{"Minor Change", "Patch Change", "Documentation", "Internal"}, doc.Sections)
}

func TestGenerateReleaseNotesCreditsAuthorOnce(t *testing.T) {
	c := commit("1", "Some Feature", 1234, "minor")
	c.Authors = append(c.Authors, insights.Author{Name: "Adam Dierkens"})

	other := commit("2", "Other Feature", 1235, "minor")
	other.Authors = []insights.Author{{Name: "Adam Dierkens"}}

	doc := newComposer(t, nil).GenerateReleaseNotes([]insights.Commit{c, other})

	assert.Contains(t, doc.Markdown, "- Some Feature [#1234](https://github.com/foobar/auto/pull/1234) ([Adam Dierkens](mailto:adam@dierkens.com))\n")
	assert.Contains(t, doc.Markdown, "- Other Feature [#1235](https://github.com/foobar/auto/pull/1235) ([Adam Dierkens](mailto:adam@dierkens.com))\n")
	assert.Contains(t, doc.Markdown, "#### Authors: 1")
	assert.Equal(t, []string{"[Adam Dierkens](mailto:adam@dierkens.com)"}, doc.Authors)
}

func TestSectionsMergeByTitle(t *testing.T) {
	labels := semver.MergeLabels(semver.DefaultLabels, []semver.LabelDefinition{
		{Name: "new-component", Title: "Enhancement", ReleaseType: semver.Minor},
		{Name: "Version: Minor", Title: "Enhancement", ReleaseType: semver.Minor},
	}, nil)

	composer := newComposer(t, labels)
	sections := composer.Sections([]insights.Commit{
		commit("3", "Second Feature", 1236, "Version: Minor"),
		commit("4", "Fix", 1237, "patch"),
		commit("2", "First Feature", 1235, "new-component"),
	})

	require.Len(t, sections, 2)
	assert.Equal(t, "Enhancement", sections[0].Title)
	assert.Equal(t, "minor", sections[0].Key)
	require.Len(t, sections[0].Commits, 2)
	assert.Equal(t, "Second Feature", sections[0].Commits[0].Subject)
	assert.Equal(t, "First Feature", sections[0].Commits[1].Subject)
	assert.Equal(t, "Patch Change", sections[1].Title)
}

func TestSectionsDedupeByChangeRequest(t *testing.T) {
	a := commit("1", "First Feature", 1235, "minor")
	b := commit("2", "First Feature", 1235, "major")
	b.Authors = []insights.Author{{Name: "Jane", Email: "jane@example.com"}}

	sections := newComposer(t, nil).Sections([]insights.Commit{a, b})

	require.Len(t, sections, 1)
	assert.Equal(t, "Major Change", sections[0].Title)
	require.Len(t, sections[0].Commits, 1)
	assert.Len(t, sections[0].Commits[0].Authors, 2)
}

func TestReleaseNotes(t *testing.T) {
	c := commit("2", "First Feature", 1235, "minor")
	c.PullRequest.Body = notesBody

	doc := newComposer(t, nil).GenerateReleaseNotes([]insights.Commit{c})

	assert.True(t, strings.HasPrefix(doc.Markdown, strings.Join([]string{
		"### Release Notes",
		"",
		"#### First Feature ([#1235](https://github.com/foobar/auto/pull/1235))",
		"",
		"Here is how you upgrade",
		"",
		"### Things you should really know",
		"",
		"Bam!?",
		"",
		"---",
		"",
		"#### Minor Change",
	}, "\n")), doc.Markdown)
	assert.NotContains(t, doc.Markdown, "add tests")
}

func TestReleaseNotesAbsent(t *testing.T) {
	c := commit("2", "First Feature", 1235, "minor")
	c.PullRequest.Body = "# Why\n\nSome words"

	doc := newComposer(t, nil).GenerateReleaseNotes([]insights.Commit{c})
	assert.True(t, strings.HasPrefix(doc.Markdown, "#### Minor Change"))
}

func TestReleaseNotesOmitted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *insights.Commit)
		tap    bool
	}{
		{name: "Bot author", mutate: func(c *insights.Commit) { c.Authors[0].Username = "renovate-bot" }},
		{name: "Bot pull request", mutate: func(c *insights.Commit) { c.PullRequest.Author = "dependabot[bot]" }},
		{name: "Custom veto", mutate: func(c *insights.Commit) { c.AddLabels("no-notes") }, tap: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := commit("2", "First Feature", 1235, "minor")
			c.PullRequest.Body = notesBody
			tt.mutate(&c)

			composer := newComposer(t, nil)
			if tt.tap {
				composer.Hooks.OmitReleaseNotes.Tap("no-notes", func(c *insights.Commit) bool {
					return c.HasLabel("no-notes")
				})
			}

			doc := composer.GenerateReleaseNotes([]insights.Commit{c})
			assert.NotContains(t, doc.Markdown, "Release Notes")
			assert.Contains(t, doc.Markdown, "- First Feature")
		})
	}
}

func TestHooks(t *testing.T) {
	composer := newComposer(t, nil)
	composer.Hooks.RenderTitle.Tap("hearts", func(title string, ctx TitleContext) string {
		return ":heart: " + title + " :heart:"
	})
	composer.Hooks.RenderTitle.Tap("key", func(title string, ctx TitleContext) string {
		return title + " (" + ctx.Key + ")"
	})
	composer.Hooks.RenderAuthor.Tap("author", func(_ string, ctx AuthorContext) string {
		return ":heart: " + ctx.Author.Name + "/" + ctx.Commit.AuthorEmail + " :heart:"
	})
	composer.Hooks.RenderAuthorLine.Tap("line", func(_ string, ctx AuthorContext) string {
		return ":shipit: " + ctx.Author.Name + " (" + ctx.Credit + ")"
	})
	composer.Hooks.RenderLine.Tap("line", func(line string, c *insights.Commit) string {
		return line + " " + c.ShortHash()
	})

	doc := composer.GenerateReleaseNotes([]insights.Commit{commit("abcdef1234", "Some Feature", 1234)})

	assert.Equal(t, []string{":heart: Patch Change :heart: (patch)"}, doc.Sections)
	assert.Contains(t, doc.Markdown, "- Some Feature [#1234](https://github.com/foobar/auto/pull/1234) (:heart: Adam Dierkens/adam@dierkens.com :heart:) abcdef12")
	assert.Equal(t, []string{":shipit: Adam Dierkens (:heart: Adam Dierkens/adam@dierkens.com :heart:)"}, doc.AuthorLines)
}

func TestAuthorsAreListedOnce(t *testing.T) {
	doc := newComposer(t, nil).GenerateReleaseNotes([]insights.Commit{
		commit("1", "One", 1, "minor"),
		commit("2", "Two", 2, "patch"),
	})

	assert.Len(t, doc.AuthorLines, 1)
	assert.Contains(t, doc.Markdown, "#### Authors: 1")
}
