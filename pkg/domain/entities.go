// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by annotcore.
package domain

import (
	"encoding/json"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAnnotation identifies an annotation record.
	EntityAnnotation EntityType = "annotation"
	// EntityNipsaUser identifies a moderation-flag entry for a user.
	EntityNipsaUser EntityType = "nipsa_user"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Selector describes how to (re)locate an annotation's target within a
// document. Type names the selector kind and Value carries its payload; for
// fragment selectors Value is the URL fragment component as parsed by
// net/url, i.e. without the leading '#'.
type Selector struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Target is the thing being annotated: a document (or region of one)
// identified by a source URI plus zero or more selectors. Selector creators
// treat the target as opaque.
type Target struct {
	Source    string     `json:"source,omitempty"`
	Selectors []Selector `json:"selector,omitempty"`
}

// Permissions maps an action (read, update, delete, admin) to the principals
// allowed to perform it.
type Permissions map[string][]string

// Clone returns a deep copy of the permission map.
func (p Permissions) Clone() Permissions {
	if p == nil {
		return nil
	}
	cp := make(Permissions, len(p))
	for action, principals := range p {
		cp[action] = append([]string(nil), principals...)
	}
	return cp
}

// Annotation is a user-created note anchored to a location within a document.
// Annotations are schemaless documents: fields the core does not model are
// preserved verbatim in Extra across JSON round-trips.
type Annotation struct {
	ID          string      `json:"id,omitempty"`
	URI         string      `json:"uri,omitempty"`
	User        string      `json:"user,omitempty"`
	Consumer    string      `json:"consumer,omitempty"`
	Text        string      `json:"text,omitempty"`
	Quote       string      `json:"quote,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Targets     []Target    `json:"target,omitempty"`
	Permissions Permissions `json:"permissions,omitempty"`
	// NotInPublicSiteAreas marks annotations hidden from public areas because
	// their author is on the moderation list.
	NotInPublicSiteAreas bool      `json:"not_in_public_site_areas,omitempty"`
	Deleted              bool      `json:"deleted,omitempty"`
	CreatedAt            time.Time `json:"created,omitzero"`
	UpdatedAt            time.Time `json:"updated,omitzero"`

	Extra map[string]any `json:"-"`
}

// annotationAlias prevents MarshalJSON/UnmarshalJSON recursion.
type annotationAlias Annotation

// knownAnnotationKeys lists the JSON keys bound to typed Annotation fields;
// everything else round-trips through Extra.
var knownAnnotationKeys = []string{
	"id", "uri", "user", "consumer", "text", "quote", "tags", "target",
	"permissions", "not_in_public_site_areas", "deleted", "created", "updated",
}

// MarshalJSON serialises the typed fields and merges schemaless extras.
func (a Annotation) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(annotationAlias(a))
	if err != nil {
		return nil, err
	}
	if len(a.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(a.Extra)+16)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range a.Extra {
		if _, bound := merged[k]; bound {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON hydrates typed fields and captures unrecognised keys in Extra.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var aux annotationAlias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = Annotation(aux)

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range knownAnnotationKeys {
		delete(all, key)
	}
	if len(all) > 0 {
		a.Extra = all
	} else {
		a.Extra = nil
	}
	return nil
}

// Clone returns a deep copy of the annotation.
func (a Annotation) Clone() Annotation {
	cp := a
	if a.Tags != nil {
		cp.Tags = append([]string(nil), a.Tags...)
	}
	if a.Targets != nil {
		cp.Targets = make([]Target, len(a.Targets))
		for i, t := range a.Targets {
			ct := t
			ct.Selectors = append([]Selector(nil), t.Selectors...)
			cp.Targets[i] = ct
		}
	}
	if a.Permissions != nil {
		cp.Permissions = make(Permissions, len(a.Permissions))
		for action, principals := range a.Permissions {
			cp.Permissions[action] = append([]string(nil), principals...)
		}
	}
	if a.Extra != nil {
		cp.Extra = make(map[string]any, len(a.Extra))
		for k, v := range a.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

// WorldPrincipal is the group principal granting an action to everyone,
// including anonymous requests.
const WorldPrincipal = "group:__world__"

// HasPermission reports whether the principal is listed for the action. The
// annotation's author always holds every permission, and an action granted to
// the world group is open to any principal, including the empty (anonymous)
// one.
func (a Annotation) HasPermission(action, principal string) bool {
	if principal != "" && principal == a.User {
		return true
	}
	for _, p := range a.Permissions[action] {
		if p == principal || p == WorldPrincipal {
			return true
		}
	}
	return false
}

// NipsaUser is a moderation-list entry for a user whose annotations are kept
// out of public site areas.
type NipsaUser struct {
	UserID    string    `json:"user_id"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported operations captured in the audit trail.
// ActionRead never mutates state; it exists so read events share the event
// vocabulary of the other actions.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionRead   Action = "read"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
