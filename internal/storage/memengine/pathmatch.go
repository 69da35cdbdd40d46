package memengine

import "strings"

// matchPath reports whether path matches pattern, a glob supporting "*"
// (any run of characters except '/') and "**" (any run of characters
// including '/'). This mirrors the glob-style path patterns the real
// system uses for watch/history filtering (e.g. "/configs/**.json").
func matchPath(pattern, path string) bool {
	return globMatch(pattern, path)
}

func globMatch(pattern, s string) bool {
	return globMatchRec([]rune(pattern), []rune(s))
}

func globMatchRec(pattern, s []rune) bool {
	for len(pattern) > 0 {
		switch {
		case len(pattern) >= 2 && pattern[0] == '*' && pattern[1] == '*':
			rest := pattern[2:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchRec(rest, s[i:]) {
					return true
				}
			}
			return false
		case pattern[0] == '*':
			rest := pattern[1:]
			for i := 0; i <= len(s); i++ {
				if containsSlash(s[:i]) {
					break
				}
				if globMatchRec(rest, s[i:]) {
					return true
				}
			}
			return false
		case pattern[0] == '?':
			if len(s) == 0 || s[0] == '/' {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
	return len(s) == 0
}

func containsSlash(rs []rune) bool {
	return strings.ContainsRune(string(rs), '/')
}
