package bus

import "regexp"

// evilPatterns is the table of well-known catastrophic-backtracking shapes
// called out in §4.3. Go's regexp package compiles to RE2 and is immune to
// catastrophic backtracking by construction, but the heuristic check is
// kept anyway: schemas registered here may be re-exported or hand-copied
// into other runtimes (the browser modules this bus mirrors), so rejecting
// these shapes at registration time keeps schemas portable rather than
// relying on an engine-specific guarantee.
var evilPatterns = []string{
	`(.*)+`,
	`(.+)+`,
	`(\s+)+`,
	`(\w+)+`,
	`(\d+)+`,
}

var (
	nestedQuantifierA = regexp.MustCompile(`\([^()]*[+*][^()]*\)[+*?]`)
	nestedQuantifierB = regexp.MustCompile(`\([^()]*[+*?][^()]*\)[+*]`)
	alternationGroup  = regexp.MustCompile(`\(([^()|]*)\|([^()|]*)\)[+*]`)
	classInGroup      = regexp.MustCompile(`\([^()]*\[[^\]]*\][+*][^()]*\)[+*]`)
)

// IsUnsafePattern applies the ReDoS heuristics from §4.3: nested
// quantifiers, alternation with a shared-prefix pair inside a quantified
// group, a quantified character class inside a quantified group, and a
// table of known-evil literal patterns.
func IsUnsafePattern(pattern string) bool {
	for _, evil := range evilPatterns {
		if pattern == evil {
			return true
		}
	}

	if nestedQuantifierA.MatchString(pattern) || nestedQuantifierB.MatchString(pattern) {
		return true
	}

	if classInGroup.MatchString(pattern) {
		return true
	}

	if matches := alternationGroup.FindStringSubmatch(pattern); matches != nil {
		if sharesPrefix(matches[1], matches[2]) {
			return true
		}
	}

	return false
}

// sharesPrefix reports whether two alternation branches share a non-empty
// leading character, the classic ambiguous-alternation ReDoS trigger
// (e.g. (a|ab)+ against "aaaaaaaaaa!").
func sharesPrefix(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a[0] == b[0]
}
