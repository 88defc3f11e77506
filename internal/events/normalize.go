package events

import "strings"

// AnonymousUser is used when upstream provides neither a unique id nor a nickname.
const AnonymousUser = "Anonymous"

// UnknownGift is used when upstream omits the gift name.
const UnknownGift = "Unknown Gift"

// ResolveUsername picks the first non-blank candidate, in order of preference,
// falling back to AnonymousUser. The result is never empty.
func ResolveUsername(candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return AnonymousUser
}

// GiftCoins returns diamonds × repeat. A missing or negative field contributes 0.
func GiftCoins(diamonds, repeat *int) int {
	if diamonds == nil || repeat == nil || *diamonds < 0 || *repeat < 0 {
		return 0
	}
	return *diamonds * *repeat
}

// GiftCount returns the repeat count, defaulting to 1.
func GiftCount(repeat *int) int {
	if repeat == nil || *repeat < 1 {
		return 1
	}
	return *repeat
}
