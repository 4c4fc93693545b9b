package forge

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Memory is an in-memory forge. It backs the tests and the offline mode used
// when no forge credentials are configured, in which case every lookup
// simply finds nothing.
//
// Errors injects failures per method name (e.g. "GetChangeRequest"). A key
// of the form "GetChangeRequest:123" fails only that argument.
type Memory struct {
	PullRequests  map[int]ChangeRequest
	PRCommits     map[int][]CommitRef
	SearchResults map[string][]int
	HashIndex     map[string][]int
	LatestRelease *ReleaseInfo
	CommitDates   map[string]time.Time
	Users         map[string]Profile
	Labels        []Label
	Errors        map[string]error

	lock  sync.Mutex
	calls map[string]int
}

// NewMemory returns an empty in-memory forge
func NewMemory() *Memory {
	return &Memory{
		PullRequests:  make(map[int]ChangeRequest),
		PRCommits:     make(map[int][]CommitRef),
		SearchResults: make(map[string][]int),
		HashIndex:     make(map[string][]int),
		CommitDates:   make(map[string]time.Time),
		Users:         make(map[string]Profile),
		Errors:        make(map[string]error),
	}
}

// Calls returns how many times method was invoked
func (m *Memory) Calls(method string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.calls[method]
}

func (m *Memory) record(method string, arg any) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++

	if err, ok := m.Errors[method]; ok {
		return err
	}
	if arg != nil {
		if err, ok := m.Errors[method+":"+toKey(arg)]; ok {
			return err
		}
	}
	return nil
}

func toKey(arg any) string {
	switch v := arg.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func (m *Memory) GetChangeRequest(_ context.Context, number int) (*ChangeRequest, error) {
	if err := m.record("GetChangeRequest", number); err != nil {
		return nil, err
	}

	pr, ok := m.PullRequests[number]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "pull request #%d", number)
	}
	pr.Number = number
	pr.Labels = append([]string(nil), pr.Labels...)
	return &pr, nil
}

func (m *Memory) GetCommitsForChangeRequest(_ context.Context, number int) ([]CommitRef, error) {
	if err := m.record("GetCommitsForChangeRequest", number); err != nil {
		return nil, err
	}
	return append([]CommitRef(nil), m.PRCommits[number]...), nil
}

// SearchMerged returns the results registered under the first key of
// SearchResults contained in query.
func (m *Memory) SearchMerged(_ context.Context, query string, since time.Time) ([]int, error) {
	if err := m.record("SearchMerged", query); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m.SearchResults))
	for key := range m.SearchResults {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !strings.Contains(query, key) {
			continue
		}
		var numbers []int
		for _, n := range m.SearchResults[key] {
			if m.mergedBefore(n, since) {
				continue
			}
			numbers = append(numbers, n)
		}
		return numbers, nil
	}
	return nil, nil
}

func (m *Memory) BatchLookupByHash(_ context.Context, hashes []string, since time.Time) (map[string][]ChangeRequest, error) {
	if err := m.record("BatchLookupByHash", nil); err != nil {
		return nil, err
	}

	out := make(map[string][]ChangeRequest)
	for _, hash := range hashes {
		for _, n := range m.HashIndex[hash] {
			if m.mergedBefore(n, since) {
				continue
			}
			pr := m.PullRequests[n]
			pr.Number = n
			out[hash] = append(out[hash], pr)
		}
	}
	return out, nil
}

// mergedBefore mimics the host's "merged:>=" qualifier
func (m *Memory) mergedBefore(number int, since time.Time) bool {
	pr, ok := m.PullRequests[number]
	if !ok || pr.MergedAt.IsZero() || since.IsZero() {
		return false
	}
	return pr.MergedAt.Before(since)
}

func (m *Memory) GetLatestReleaseInfo(_ context.Context) (*ReleaseInfo, error) {
	if err := m.record("GetLatestReleaseInfo", nil); err != nil {
		return nil, err
	}
	if m.LatestRelease == nil {
		return nil, errors.Wrap(ErrNotFound, "latest release")
	}
	info := *m.LatestRelease
	return &info, nil
}

func (m *Memory) GetCommitDate(_ context.Context, hash string) (time.Time, error) {
	if err := m.record("GetCommitDate", hash); err != nil {
		return time.Time{}, err
	}
	date, ok := m.CommitDates[hash]
	if !ok {
		return time.Time{}, errors.Wrapf(ErrNotFound, "commit %s", hash)
	}
	return date, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*Profile, error) {
	if err := m.record("GetUserByUsername", username); err != nil {
		return nil, err
	}
	for _, u := range m.Users {
		if strings.EqualFold(u.Login, username) {
			profile := u
			return &profile, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*Profile, error) {
	if err := m.record("GetUserByEmail", email); err != nil {
		return nil, err
	}
	for _, u := range m.Users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			profile := u
			return &profile, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListLabels(_ context.Context) ([]Label, error) {
	if err := m.record("ListLabels", nil); err != nil {
		return nil, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]Label(nil), m.Labels...), nil
}

func (m *Memory) CreateLabel(_ context.Context, label Label) error {
	if err := m.record("CreateLabel", label.Name); err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.Labels = append(m.Labels, label)
	return nil
}

func (m *Memory) UpdateLabel(_ context.Context, label Label) error {
	if err := m.record("UpdateLabel", label.Name); err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	for i := range m.Labels {
		if strings.EqualFold(m.Labels[i].Name, label.Name) {
			m.Labels[i] = label
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "label %q", label.Name)
}
