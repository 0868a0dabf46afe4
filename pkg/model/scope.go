package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ScopeOp is an operator in the abstract access filter tree
type ScopeOp string

const (
	// OpMatchAll accepts every fact (admin scope)
	OpMatchAll ScopeOp = "match_all"
	// OpOr is true when any child term is true
	OpOr ScopeOp = "or"
	// OpAbsent is true when the field is not set on the fact
	OpAbsent ScopeOp = "absent"
	// OpEq compares the field with a bound parameter
	OpEq ScopeOp = "eq"
	// OpContains is true when the bound parameter is a member of the field
	OpContains ScopeOp = "contains"
)

// ScopeTerm is one node of the filter tree. Leaf terms reference a fact
// field and a bound parameter name; branch terms carry children.
type ScopeTerm struct {
	Op    ScopeOp     `json:"op"`
	Field string      `json:"field,omitempty"`
	Param string      `json:"param,omitempty"`
	Terms []ScopeTerm `json:"terms,omitempty"`
}

// AccessScope is a storage-agnostic row-level filter derived from a
// UserIdentity: a predicate tree plus bound parameter values. Backends
// translate it into their own query language; the in-memory store and
// tests evaluate it directly via Allows.
type AccessScope struct {
	Root   ScopeTerm         `json:"root"`
	Params map[string]string `json:"params,omitempty"`
}

// FactACL is the access metadata carried by a stored fact. An empty
// Department means the fact is public-tagged.
type FactACL struct {
	Department   string
	AllowedUsers []string
}

// Unrestricted returns the match-all scope
func Unrestricted() AccessScope {
	return AccessScope{Root: ScopeTerm{Op: OpMatchAll}}
}

// IsUnrestricted reports whether the scope accepts every fact
func (s AccessScope) IsUnrestricted() bool {
	return s.Root.Op == OpMatchAll
}

// Allows evaluates the predicate against a fact's access metadata
func (s AccessScope) Allows(acl FactACL) bool {
	return s.evalTerm(s.Root, acl)
}

func (s AccessScope) evalTerm(t ScopeTerm, acl FactACL) bool {
	switch t.Op {
	case OpMatchAll:
		return true
	case OpOr:
		for _, child := range t.Terms {
			if s.evalTerm(child, acl) {
				return true
			}
		}
		return false
	case OpAbsent:
		return s.fieldValue(t.Field, acl) == ""
	case OpEq:
		return s.fieldValue(t.Field, acl) == s.Params[t.Param]
	case OpContains:
		if t.Field != "allowed_users" {
			return false
		}
		want := s.Params[t.Param]
		for _, u := range acl.AllowedUsers {
			if u == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (s AccessScope) fieldValue(field string, acl FactACL) string {
	if field == "department" {
		return acl.Department
	}
	return ""
}

// Fingerprint returns a stable digest of the scope structure and bound
// parameters, used to key per-identity retrieval cache entries.
func (s AccessScope) Fingerprint() string {
	var sb strings.Builder
	writeTerm(&sb, s.Root)
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%s", k, s.Params[k])
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func writeTerm(sb *strings.Builder, t ScopeTerm) {
	fmt.Fprintf(sb, "(%s:%s:%s", t.Op, t.Field, t.Param)
	for _, child := range t.Terms {
		writeTerm(sb, child)
	}
	sb.WriteString(")")
}
