package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePatternRejectsInvalid(t *testing.T) {
	cases := []string{"", ".a", "a.", "a..b", "a.#.b", "a.b$c"}
	for _, pattern := range cases {
		_, err := CompilePattern(pattern)
		assert.Errorf(t, err, "expected error compiling %q", pattern)
	}
}

func TestMatchExactNoWildcards(t *testing.T) {
	m, err := CompilePattern("a.b.c")
	require.NoError(t, err)
	assert.True(t, m.Match("a.b.c"), "expected exact match")
	assert.False(t, m.Match("a.b.d"), "expected no match")
}

func TestMatchMultiWildcard(t *testing.T) {
	m, err := CompilePattern("a.#")
	require.NoError(t, err)
	assert.True(t, m.Match("a"), "a.# should match bare 'a'")
	assert.True(t, m.Match("a.b"), "a.# should match 'a.b'")
	assert.True(t, m.Match("a.b.c"), "a.# should match 'a.b.c'")
	assert.False(t, m.Match("b"), "a.# should not match 'b'")
	assert.False(t, m.Match("ab"), "a.# should not match 'ab'")
}

func TestMatchSingleWildcard(t *testing.T) {
	m, err := CompilePattern("a.+.b")
	require.NoError(t, err)
	assert.True(t, m.Match("a.x.b"), "a.+.b should match a.x.b")
	assert.False(t, m.Match("a.x.y.b"), "a.+.b should not match a.x.y.b (too many segments)")
	assert.False(t, m.Match("a.b"), "a.+.b should not match a.b (too few segments)")
}

func TestValidatePublishTopicRejectsWildcards(t *testing.T) {
	assert.Error(t, ValidatePublishTopic("a.#"), "expected wildcard rejection")
	assert.Error(t, ValidatePublishTopic("a.+"), "expected wildcard rejection")
	assert.NoError(t, ValidatePublishTopic("a.b.c"))
}

func TestMatcherCacheEviction(t *testing.T) {
	c := newMatcherCache()
	for i := 0; i < matcherCacheSize+10; i++ {
		pattern := "p" + itoa(uint64(i))
		_, err := c.compile(pattern)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, c.size(), matcherCacheSize)
}

func TestIsUnsafePattern(t *testing.T) {
	unsafe := []string{`(.*)+`, `(.+)+`, `(\s+)+`, `(\w+)+`, `(\d+)+`, `(a|ab)+`}
	for _, p := range unsafe {
		assert.Truef(t, IsUnsafePattern(p), "expected %q to be flagged unsafe", p)
	}
	safe := []string{`^[a-z]+$`, `\d{3}-\d{4}`, `[A-Za-z0-9_-]+`}
	for _, p := range safe {
		assert.Falsef(t, IsUnsafePattern(p), "expected %q to be considered safe", p)
	}
}
