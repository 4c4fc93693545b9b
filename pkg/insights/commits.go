// package insights provides the data structures shared by every stage of
// release note generation. A Commit is created once per raw log entry and
// progressively enriched: normalized, reconciled with its change request and
// then classified.
package insights

import "time"

// RawEntry is a single entry read from the version control log before any
// normalization. Every field is optional; normalization is the only place
// where absent fields are filled in.
type RawEntry struct {
	Hash        string
	Subject     string
	Body        string
	AuthorName  string
	AuthorEmail string
	Date        time.Time

	// Labels may be supplied up front by a caller that already knows them
	Labels []string
}

// Author is a single person credited on a commit. Email and Username are
// empty when unknown.
type Author struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
}

// PullRequest references the change request that owns a commit
type PullRequest struct {
	Number    int    `json:"number" yaml:"number"`
	Body      string `json:"body,omitempty" yaml:"body,omitempty"`
	MergedRef string `json:"mergedRef,omitempty" yaml:"mergedRef,omitempty"`

	// Author is the username of the person who opened the change request
	Author string `json:"author,omitempty" yaml:"author,omitempty"`
}

// Commit is the canonical commit record. Once reconciliation completes,
// Labels and PullRequest are final. The order of Authors reflects first-seen
// order and drives changelog credit order.
type Commit struct {
	Hash        string       `json:"hash" yaml:"hash"`
	Subject     string       `json:"subject" yaml:"subject"`
	Body        string       `json:"-" yaml:"-"`
	AuthorName  string       `json:"authorName,omitempty" yaml:"authorName,omitempty"`
	AuthorEmail string       `json:"authorEmail,omitempty" yaml:"authorEmail,omitempty"`
	Date        time.Time    `json:"date,omitempty" yaml:"date,omitempty"`
	Authors     []Author     `json:"authors,omitempty" yaml:"authors,omitempty"`
	Labels      []string     `json:"labels,omitempty" yaml:"labels,omitempty"`
	PullRequest *PullRequest `json:"pullRequest,omitempty" yaml:"pullRequest,omitempty"`
}

// ShortHash returns the abbreviated hash used in logs
func (c *Commit) ShortHash() string {
	if len(c.Hash) < 8 {
		return c.Hash
	}
	return c.Hash[:8]
}

// HasLabel reports whether the commit carries the given label
func (c *Commit) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// HasAnyLabel reports whether the commit carries at least one of labels
func (c *Commit) HasAnyLabel(labels []string) bool {
	for _, l := range labels {
		if c.HasLabel(l) {
			return true
		}
	}
	return false
}

// AddLabels adds labels to the commit's label set, skipping empty names and
// duplicates while keeping the first-seen order.
func (c *Commit) AddLabels(labels ...string) {
	for _, l := range labels {
		if l == "" || c.HasLabel(l) {
			continue
		}
		c.Labels = append(c.Labels, l)
	}
}

// Clone returns a deep copy so later stages never share slices with the
// input they were given.
func (c Commit) Clone() Commit {
	out := c
	out.Authors = append([]Author(nil), c.Authors...)
	out.Labels = append([]string(nil), c.Labels...)
	if c.PullRequest != nil {
		pr := *c.PullRequest
		out.PullRequest = &pr
	}
	return out
}

// PRNumber returns the owning change request number or 0
func (c *Commit) PRNumber() int {
	if c.PullRequest == nil {
		return 0
	}
	return c.PullRequest.Number
}
