package domain

import "strings"

// DefaultPerPage is the page size used when a search does not specify one.
const DefaultPerPage = 25

// OrderBy is a single sort directive against an allow-listed column key.
type OrderBy struct {
	Key  string
	Desc bool
}

// searchColumns maps public sort keys to the columns the store may order by.
// Keys outside this map are silently dropped, never interpolated.
var searchColumns = map[string]string{
	"id":            "u.id",
	"uuid":          "u.uuid",
	"username":      "u.username",
	"email":         "u.email",
	"first-name":    "u.firstName",
	"last-name":     "u.lastName",
	"created":       "u.created",
	"last-activity": "u.lastActivity",
}

// SearchColumn resolves a public sort key to its backing column.
func SearchColumn(key string) (string, bool) {
	col, ok := searchColumns[key]
	return col, ok
}

// ParseOrderBy parses sort directives of the form "key", "+key" or "-key".
// Unknown keys are discarded.
func ParseOrderBy(keys []string) []OrderBy {
	out := make([]OrderBy, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		desc := false
		switch {
		case strings.HasPrefix(k, "-"):
			desc = true
			k = k[1:]
		case strings.HasPrefix(k, "+"):
			k = k[1:]
		}
		if _, ok := searchColumns[k]; !ok {
			continue
		}
		out = append(out, OrderBy{Key: k, Desc: desc})
	}
	return out
}

// ParseAppRole parses an "app:role" membership filter.
func ParseAppRole(s string) (AppRole, bool) {
	app, role, ok := strings.Cut(s, ":")
	if !ok || app == "" || role == "" {
		return AppRole{}, false
	}
	return AppRole{App: app, Role: role}, true
}

// SearchCriteria describes a user search. All filters are ANDed together;
// the membership pairs within Memberships are ORed.
type SearchCriteria struct {
	// Query is a prefix match against email, first name and last name.
	Query string
	// Email is a prefix match against the email column alone. Ignored when
	// Query is set.
	Email string
	// UUIDs restricts results to an explicit set of external ids.
	UUIDs []string
	// Memberships requires at least one matching (app, role) pair.
	Memberships []AppRole
	// ActiveOnly drops deactivated accounts when set.
	ActiveOnly bool

	OrderBy []OrderBy
	Page    int
	PerPage int
}

// Normalize clamps paging values and applies defaults in place.
func (c *SearchCriteria) Normalize() {
	if c.PerPage <= 0 {
		c.PerPage = DefaultPerPage
	}
	if c.Page < 0 {
		c.Page = 0
	}
	if len(c.OrderBy) == 0 {
		c.OrderBy = []OrderBy{{Key: "id"}}
	}
}

// Page is one page of a larger result set. LastPage is the zero-based index
// of the final page, never negative even for an empty set.
type Page[T any] struct {
	Items       []T
	CurrentPage int
	LastPage    int
	Total       int
}

// NewPage assembles a page from a slice plus the total row count.
func NewPage[T any](items []T, current, total, perPage int) Page[T] {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	last := (total + perPage - 1) / perPage
	last--
	if last < 0 {
		last = 0
	}
	return Page[T]{
		Items:       items,
		CurrentPage: current,
		LastPage:    last,
		Total:       total,
	}
}
