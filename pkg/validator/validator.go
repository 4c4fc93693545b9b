// package validator provides the necessary utilities
// to validate release requests before any repository is fetched
package validator

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/open-sauced/pizza/release/pkg/common"
)

var (
	githubRegex = regexp.MustCompile(`^https://github\.com/[\w.-]+/[\w.-]+$`)
)

// Validator: type which contains a map of validation errors (error name : string -> error_description : string)
type Validator struct {
	Errors map[string]string
}

// New: return an instance of a validator
func New() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid: returns true if there are no errors, otherwise false
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError: add a new error to the validator
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// CheckConstraint: Receives a constraint that evaluates to a boolean expression to validate
// false -> add error
// true -> skip
func (v *Validator) CheckConstraint(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// ValidateURL checks a repository URL. githubOnly restricts it to github.com
// repositories.
func ValidateURL(validator *Validator, url string, githubOnly bool) {
	validator.CheckConstraint(url != "", "url", "URL must be provided")

	normalized, err := common.NormalizeGitURL(url)
	validator.CheckConstraint(err == nil, "url", "The URL provided is not a valid git URL")
	if err != nil {
		return
	}

	_, _, err = common.ParseRepoSlug(normalized)
	validator.CheckConstraint(err == nil, "url", "The URL provided does not name a repository")

	if githubOnly {
		validator.CheckConstraint(MatchesGithubURL(normalized), "url", "The URL provided is not a valid repository")
	}
}

// ValidateRevision checks a commit-ish. Empty revisions are allowed.
func ValidateRevision(validator *Validator, key, rev string) {
	validator.CheckConstraint(!strings.ContainsAny(rev, " \t\n:?*[\\"), key, "The revision contains invalid characters")
	validator.CheckConstraint(!strings.HasPrefix(rev, "-"), key, "The revision must not start with a dash")
	validator.CheckConstraint(!strings.Contains(rev, ".."), key, "The revision must be a single commit, not a range")
}

// ValidateVersion checks an optional semantic version such as v1.2.3
func ValidateVersion(validator *Validator, key, version string) {
	if version == "" {
		return
	}
	_, err := semver.NewVersion(version)
	validator.CheckConstraint(err == nil, key, "The version is not a valid semantic version")
}

func MatchesGithubURL(url string) bool {
	return githubRegex.MatchString(url)
}
