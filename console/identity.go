package console

import (
	"strings"

	"ZapDesk/entity"
)

// placeholderNames are generic labels the gateway hands out when it has
// no real contact data. They never win over an actual name.
var placeholderNames = map[string]struct{}{
	"Operator": {},
	"Agent":    {},
	"You":      {},
	"Bot":      {},
	"Group":    {},
	"Contact":  {},
}

// IsPlaceholderName reports whether name carries no real identity.
func IsPlaceholderName(name string) bool {
	n := strings.TrimSpace(name)
	if n == "" {
		return true
	}
	if _, ok := placeholderNames[n]; ok {
		return true
	}
	// Masked group labels like "Group ****"
	if rest, ok := strings.CutPrefix(n, "Group "); ok && strings.Trim(rest, "*") == "" {
		return true
	}
	return false
}

// PrettyKey strips the network suffix from an identity key, leaving the
// bare phone number or group id.
func PrettyKey(key string) string {
	if i := strings.IndexByte(key, '@'); i >= 0 {
		return key[:i]
	}
	return key
}

// IsGroupKey reports whether the key addresses a group chat.
func IsGroupKey(key string) bool {
	return strings.HasSuffix(key, "@g.us")
}

// ResolveDisplayName picks the first non-placeholder candidate, in
// priority order, falling back to the prettified key.
func ResolveDisplayName(key string, candidates ...string) string {
	for _, c := range candidates {
		if c != "" && !IsPlaceholderName(c) {
			return c
		}
	}
	return PrettyKey(key)
}

// MergeIdentity combines a cached identity with an incoming one without
// nuking good values: a real name never loses to a placeholder, and an
// avatar is only replaced when the current one is absent or a stock
// default.
func MergeIdentity(current, incoming entity.Identity) entity.Identity {
	merged := current
	if merged.Key == "" {
		merged.Key = incoming.Key
	}

	if !IsPlaceholderName(incoming.Name) {
		if IsPlaceholderName(merged.Name) {
			merged.Name = incoming.Name
		}
	}

	if incoming.Avatar != "" {
		if merged.Avatar == "" || strings.Contains(merged.Avatar, "default") {
			merged.Avatar = incoming.Avatar
		}
	}

	if incoming.ResolvedAt.After(merged.ResolvedAt) {
		merged.ResolvedAt = incoming.ResolvedAt
	}
	return merged
}
