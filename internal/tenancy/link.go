package tenancy

import (
	"fmt"
	"sort"
	"strings"
)

// LinkStatus is the lifecycle state of a firm-client relationship.
type LinkStatus string

const (
	LinkPending    LinkStatus = "pending"
	LinkActive     LinkStatus = "active"
	LinkSuspended  LinkStatus = "suspended"
	LinkTerminated LinkStatus = "terminated"
)

var linkTransitions = map[LinkStatus][]LinkStatus{
	LinkPending:   {LinkActive, LinkTerminated},
	LinkActive:    {LinkSuspended, LinkTerminated},
	LinkSuspended: {LinkActive, LinkTerminated},
}

// Valid reports whether s is a known status.
func (s LinkStatus) Valid() bool {
	switch s {
	case LinkPending, LinkActive, LinkSuspended, LinkTerminated:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s LinkStatus) IsTerminal() bool { return s == LinkTerminated }

// CanTransition reports whether moving from s to next is allowed.
func (s LinkStatus) CanTransition(next LinkStatus) bool {
	for _, allowed := range linkTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseLinkStatus validates external or stored status text.
func ParseLinkStatus(raw string) (LinkStatus, error) {
	status := LinkStatus(strings.TrimSpace(strings.ToLower(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown relationship status %q", ErrInvalidState, raw)
	}
	return status, nil
}

// Scope is the level of access a firm has over a client's data.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeRead
	ScopeWrite
)

func (s Scope) String() string {
	switch s {
	case ScopeRead:
		return "read"
	case ScopeWrite:
		return "write"
	}
	return "none"
}

// Allows reports whether the scope covers the given access kind.
func (s Scope) Allows(kind Access) bool {
	switch kind {
	case AccessRead:
		return s >= ScopeRead
	case AccessWrite:
		return s >= ScopeWrite
	}
	return false
}

// NormalizeServices lower-cases, trims, dedupes and sorts a comma separated services list.
func NormalizeServices(raw string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// ScopeFromServices derives the access scope granted by a servicesProvided value.
// "write" grants read and write; anything else, including an empty list, grants read.
func ScopeFromServices(services string) Scope {
	for _, part := range strings.Split(services, ",") {
		if strings.TrimSpace(strings.ToLower(part)) == "write" {
			return ScopeWrite
		}
	}
	return ScopeRead
}
