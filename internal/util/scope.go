package util

import (
	"slices"
	"strings"
)

// ParseScopes splits a space-separated scope string, dropping duplicates and
// keeping first-seen order.
func ParseScopes(s string) []string {
	var scopes []string
	for scope := range strings.FieldsSeq(s) {
		if !slices.Contains(scopes, scope) {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

// JoinScopes is the inverse of ParseScopes
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
