package domain

import "strings"

// EntityKind tags the shape of an extracted entity.
type EntityKind string

const (
	EntityIssueKey     EntityKind = "issue_key"
	EntityEmail        EntityKind = "email"
	EntityDate         EntityKind = "date"
	EntityQuoted       EntityKind = "quoted"
	EntityNamespace    EntityKind = "namespace"
	EntityPRNumber     EntityKind = "pr_number"
	EntityRepository   EntityKind = "repository"
	EntityIdentifier   EntityKind = "identifier"
	EntityStatus       EntityKind = "status"
	EntityResourceType EntityKind = "resource_type"
	EntityUser         EntityKind = "user"
	EntityBranch       EntityKind = "branch"
	EntityTime         EntityKind = "time"
)

// Placeholder returns the token that replaces an entity of this kind
// in a normalized template.
func (k EntityKind) Placeholder() string {
	switch k {
	case EntityIdentifier:
		return "[ID]"
	default:
		return "[" + strings.ToUpper(string(k)) + "]"
	}
}

// Entity is a typed span of the original message.
// Start and End are byte offsets into the message; End is exclusive.
// Literal entities stay verbatim in templates.
type Entity struct {
	Kind    EntityKind `json:"kind"`
	Name    string     `json:"name"`
	Value   string     `json:"value"`
	Text    string     `json:"text"`
	Start   int        `json:"start"`
	End     int        `json:"end"`
	Literal bool       `json:"literal,omitempty"`
}

// Overlaps reports whether the two spans share at least one byte.
func (e Entity) Overlaps(start, end int) bool {
	return e.Start < end && start < e.End
}

// Entities is an ordered, non-overlapping set of entities.
type Entities []Entity

// Get returns the first entity with the given name.
func (es Entities) Get(name string) (Entity, bool) {
	for _, e := range es {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}

// Value returns the value of the first entity named name, or "".
func (es Entities) Value(name string) string {
	e, _ := es.Get(name)
	return e.Value
}

// Has reports whether an entity with the given name exists.
func (es Entities) Has(name string) bool {
	_, ok := es.Get(name)
	return ok
}

// Claims reports whether any entity overlaps [start, end).
func (es Entities) Claims(start, end int) bool {
	for _, e := range es {
		if e.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// Map flattens entities into name -> value. Later duplicates do not
// overwrite earlier ones.
func (es Entities) Map() map[string]string {
	m := make(map[string]string, len(es))
	for _, e := range es {
		if _, ok := m[e.Name]; !ok {
			m[e.Name] = e.Value
		}
	}
	return m
}
