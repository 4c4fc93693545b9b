package insights

import "strings"

// SameAuthor reports whether two author records identify the same person.
// Email is compared first, then username. Name is used when one of the
// records carries neither an email nor a username.
func SameAuthor(a, b Author) bool {
	if a.Email != "" && b.Email != "" {
		if strings.EqualFold(a.Email, b.Email) {
			return true
		}
	}
	if a.Username != "" && b.Username != "" {
		if strings.EqualFold(a.Username, b.Username) {
			return true
		}
	}

	noKeys := (a.Email == "" && a.Username == "") || (b.Email == "" && b.Username == "")
	return noKeys && a.Name != "" && a.Name == b.Name
}

// AddAuthor appends author unless an equivalent author is already present,
// in which case the missing fields of the existing record are filled in.
func (c *Commit) AddAuthor(author Author) {
	if author.Name == "" && author.Email == "" && author.Username == "" {
		return
	}

	for i := range c.Authors {
		if SameAuthor(c.Authors[i], author) {
			c.Authors[i] = mergeAuthor(c.Authors[i], author)
			return
		}
	}
	c.Authors = append(c.Authors, author)
}

// MergeProfile folds a forge profile into the commit's authors. A profile
// matches an existing author on email, username or display name. Unmatched
// profiles are appended as an extra credit.
func (c *Commit) MergeProfile(profile Author) {
	for i := range c.Authors {
		existing := c.Authors[i]
		if SameAuthor(existing, profile) ||
			(existing.Name != "" && existing.Name == profile.Name) {
			c.Authors[i] = mergeAuthor(existing, profile)
			c.dedupeAuthors()
			return
		}
	}
	c.AddAuthor(profile)
}

// dedupeAuthors collapses authors that became equivalent after enrichment,
// keeping the first occurrence.
func (c *Commit) dedupeAuthors() {
	var out []Author
	for _, a := range c.Authors {
		merged := false
		for i := range out {
			if SameAuthor(out[i], a) {
				out[i] = mergeAuthor(out[i], a)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, a)
		}
	}
	c.Authors = out
}

func mergeAuthor(into, from Author) Author {
	if into.Name == "" {
		into.Name = from.Name
	}
	if into.Email == "" {
		into.Email = from.Email
	}
	if into.Username == "" {
		into.Username = from.Username
	}
	return into
}
