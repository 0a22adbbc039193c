// Package hotkey parses toggle combinations and listens for them globally.
package hotkey

import (
	"fmt"
	"strings"
)

// Combination is a parsed hotkey: zero or more modifiers plus exactly one key.
type Combination struct {
	Raw       string
	Modifiers []string
	Key       string
}

// Tokens returns the combination in registration order, modifiers first.
func (c Combination) Tokens() []string {
	tokens := make([]string, 0, len(c.Modifiers)+1)
	tokens = append(tokens, c.Modifiers...)
	return append(tokens, c.Key)
}

// String renders the normalized combination, e.g. "ctrl+shift+space".
func (c Combination) String() string {
	return strings.Join(c.Tokens(), "+")
}

// Parse validates a combination string like "ctrl+shift+space". Tokens are
// case-insensitive; super/win/meta are accepted aliases for the cmd modifier.
func Parse(raw string) (Combination, error) {
	parts := strings.Split(raw, "+")
	combo := Combination{Raw: raw}
	seen := make(map[string]bool, len(parts))

	for _, part := range parts {
		token := normalizeKeyToken(part)
		if token == "" {
			return Combination{}, fmt.Errorf("hotkey %q has an empty token", raw)
		}
		if seen[token] {
			return Combination{}, fmt.Errorf("hotkey %q repeats %q", raw, token)
		}
		seen[token] = true

		if isModifier(token) {
			if combo.Key != "" {
				return Combination{}, fmt.Errorf("hotkey %q places modifier %q after the key", raw, token)
			}
			combo.Modifiers = append(combo.Modifiers, token)
			continue
		}
		if !isKnownKey(token) {
			return Combination{}, fmt.Errorf("hotkey %q has unknown key %q", raw, part)
		}
		if combo.Key != "" {
			return Combination{}, fmt.Errorf("hotkey %q has more than one non-modifier key", raw)
		}
		combo.Key = token
	}

	if combo.Key == "" {
		return Combination{}, fmt.Errorf("hotkey %q needs one non-modifier key", raw)
	}
	return combo, nil
}

// normalizeKeyToken lowercases a token and folds known aliases.
func normalizeKeyToken(part string) string {
	token := strings.ToLower(strings.TrimSpace(part))
	switch token {
	case "super", "win", "meta":
		return "cmd"
	case "control":
		return "ctrl"
	case "escape":
		return "esc"
	case "caps", "caps_lock":
		return "capslock"
	case "return":
		return "enter"
	}
	return token
}

func isModifier(token string) bool {
	switch token {
	case "ctrl", "shift", "alt", "cmd":
		return true
	}
	return false
}

// isKnownKey accepts the key names the hook library registers.
func isKnownKey(token string) bool {
	switch token {
	case "space", "enter", "tab", "esc", "capslock", "backspace", "delete",
		"up", "down", "left", "right", "home", "end", "pageup", "pagedown", "insert":
		return true
	}
	if len(token) == 1 {
		c := token[0]
		return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
	}
	if strings.HasPrefix(token, "f") && len(token) <= 3 {
		n := 0
		for _, r := range token[1:] {
			if r < '0' || r > '9' {
				return false
			}
			n = n*10 + int(r-'0')
		}
		return n >= 1 && n <= 24
	}
	return false
}
