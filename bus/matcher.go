package bus

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// segmentKind tags a compiled matcher segment, replacing the runtime
// type-tag dispatch the source implementation used with an explicit enum
// (§9, "Runtime reflection & dynamic typing").
type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentSingle              // '+'
	segmentMulti               // '#', only valid as the final segment
)

type segment struct {
	kind    segmentKind
	literal string
}

// Matcher is a compiled subscription pattern: an ordered segment list plus a
// precomputed fast-path flag, per §3/§4.1.
type Matcher struct {
	pattern      string
	segments     []segment
	hasWildcards bool
}

// Pattern returns the original pattern string the matcher was compiled from.
func (m *Matcher) Pattern() string { return m.pattern }

// HasWildcards reports whether the compiled pattern contains + or #.
func (m *Matcher) HasWildcards() bool { return m.hasWildcards }

const matcherCacheSize = 1000

// matcherCache is an LRU of compiled matchers, bounded at matcherCacheSize
// entries and owned per-Bus-instance (see SPEC_FULL.md's Open Question
// Resolutions). It is purely an optimization; eviction never changes match
// semantics, only recompilation cost.
type matcherCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newMatcherCache() *matcherCache {
	c, err := lru.New(matcherCacheSize)
	if err != nil {
		// lru.New only fails for non-positive size; matcherCacheSize is a
		// positive constant, so this path is unreachable in practice.
		panic(err)
	}
	return &matcherCache{cache: c}
}

// compile returns a cached Matcher for pattern, compiling and inserting it
// if absent.
func (c *matcherCache) compile(pattern string) (*Matcher, error) {
	c.mu.Lock()
	if v, ok := c.cache.Get(pattern); ok {
		c.mu.Unlock()
		return v.(*Matcher), nil
	}
	c.mu.Unlock()

	m, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(pattern, m)
	c.mu.Unlock()
	return m, nil
}

// size reports the number of cached matchers, exposed for tests that
// exercise eviction behavior (getMatcherCacheSize in the source harness,
// per §9's open question).
func (c *matcherCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

func isValidSegmentChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

func isValidSegmentString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isValidSegmentChar(r) {
			return false
		}
	}
	return true
}

// CompilePattern compiles a subscription pattern into a Matcher per the
// rules in §4.1: empty, leading/trailing/repeated '.', invalid segment
// characters, and '#' anywhere but last all fail.
func CompilePattern(pattern string) (*Matcher, error) {
	if pattern == "" {
		return nil, ErrInvalidPattern
	}
	if strings.HasPrefix(pattern, ".") || strings.HasSuffix(pattern, ".") || strings.Contains(pattern, "..") {
		return nil, ErrInvalidPattern
	}

	raw := strings.Split(pattern, ".")
	segments := make([]segment, 0, len(raw))
	hasWildcards := false

	for i, part := range raw {
		switch part {
		case "#":
			if i != len(raw)-1 {
				return nil, ErrInvalidPattern
			}
			segments = append(segments, segment{kind: segmentMulti})
			hasWildcards = true
		case "+":
			segments = append(segments, segment{kind: segmentSingle})
			hasWildcards = true
		default:
			if !isValidSegmentString(part) {
				return nil, ErrInvalidPattern
			}
			segments = append(segments, segment{kind: segmentLiteral, literal: part})
		}
	}

	return &Matcher{pattern: pattern, segments: segments, hasWildcards: hasWildcards}, nil
}

// ValidatePublishTopic enforces the stricter publish-time rule: a topic
// must compile cleanly AND contain no wildcard segments (§4.1).
func ValidatePublishTopic(topic string) error {
	m, err := CompilePattern(topic)
	if err != nil {
		return err
	}
	if m.hasWildcards {
		return ErrTopicHasWildcards
	}
	return nil
}

// Match reports whether topic matches the compiled pattern.
func (m *Matcher) Match(topic string) bool {
	if !m.hasWildcards {
		return topic == m.pattern
	}

	topicSegments := strings.Split(topic, ".")
	return matchSegments(m.segments, topicSegments)
}

func matchSegments(pattern []segment, topic []string) bool {
	i := 0
	for i < len(pattern) {
		seg := pattern[i]
		switch seg.kind {
		case segmentMulti:
			// '#' matches zero or more remaining segments, including none.
			return true
		case segmentSingle:
			if i >= len(topic) {
				return false
			}
			i++
		case segmentLiteral:
			if i >= len(topic) || topic[i] != seg.literal {
				return false
			}
			i++
		}
	}
	return i == len(topic)
}
