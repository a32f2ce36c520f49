package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Scope kinds used to key the change feed.
const (
	ScopeConversation = "conversation"
	ScopeProject      = "project"
	ScopeUser         = "user"
	ScopeMachines     = "machines"
	ScopePosts        = "posts"
)

// ConversationScope returns the scope for a direct conversation. The
// participants are sorted so both sides resolve to the same key.
func ConversationScope(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ScopeConversation + ":" + ids[0] + ":" + ids[1]
}

func ProjectScope(projectID string) string { return ScopeProject + ":" + projectID }

func UserScope(userID string) string { return ScopeUser + ":" + userID }

// ParsedScope is a scope key split into its kind and identifiers.
type ParsedScope struct {
	Kind string
	IDs  []string
}

// ParseScope validates a scope key.
func ParseScope(scope string) (ParsedScope, error) {
	parts := strings.Split(scope, ":")
	switch parts[0] {
	case ScopeMachines, ScopePosts:
		if len(parts) != 1 {
			return ParsedScope{}, fmt.Errorf("invalid scope %q", scope)
		}
		return ParsedScope{Kind: parts[0]}, nil
	case ScopeProject, ScopeUser:
		if len(parts) != 2 || parts[1] == "" {
			return ParsedScope{}, fmt.Errorf("invalid scope %q", scope)
		}
		return ParsedScope{Kind: parts[0], IDs: parts[1:]}, nil
	case ScopeConversation:
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return ParsedScope{}, fmt.Errorf("invalid scope %q", scope)
		}
		if parts[1] > parts[2] {
			return ParsedScope{}, fmt.Errorf("invalid scope %q: participants must be sorted", scope)
		}
		return ParsedScope{Kind: parts[0], IDs: parts[1:]}, nil
	default:
		return ParsedScope{}, fmt.Errorf("invalid scope %q", scope)
	}
}
