package matcher

import "github.com/bmatcuk/doublestar/v4"

// Matcher selects names by glob. Unlike a watch list, an empty include list
// selects everything so that an unconfigured filter is a no-op.
type Matcher struct{ include, exclude []string }

func New(include, exclude []string) Matcher { return Matcher{include: include, exclude: exclude} }

func (m Matcher) Match(s string) bool {
	included := len(m.include) == 0
	for _, p := range m.include {
		if ok, _ := doublestar.Match(p, s); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range m.exclude {
		if ok, _ := doublestar.Match(p, s); ok {
			return false
		}
	}
	return true
}
