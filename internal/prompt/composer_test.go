package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unipost/unipost/internal/ranking"
	"github.com/unipost/unipost/internal/search"
)

func ranked(docs ...search.Document) []ranking.Ranked {
	out := make([]ranking.Ranked, len(docs))
	for i, d := range docs {
		out[i] = ranking.Ranked{Doc: d, Similarity: 1 - float64(i)*0.1}
	}
	return out
}

func TestComposeIncludesTopicAndContext(t *testing.T) {
	c := NewComposer(0)
	p, err := c.Compose("coffee trends", PlatformLinkedin, ranked(
		search.Document{Title: "Cold brew", Content: "Cold brew is growing fast."},
	))
	require.NoError(t, err)

	assert.Contains(t, p, `"coffee trends"`)
	assert.Contains(t, p, "**Cold brew**\nCold brew is growing fast.")
	assert.Contains(t, p, "LinkedIn post")
}

func TestComposeUnknownPlatformFallsBackToBlog(t *testing.T) {
	c := NewComposer(0)
	p, err := c.Compose("topic", "XYZ", ranked(
		search.Document{Content: "some content"},
	))
	require.NoError(t, err)
	assert.Contains(t, p, "blog post")
}

func TestComposeDeduplicatesContent(t *testing.T) {
	c := NewComposer(0)
	p, err := c.Compose("topic", PlatformFacebook, ranked(
		search.Document{Title: "A", Content: "same body"},
		search.Document{Title: "B", Content: "same body"},
	))
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(p, "same body"))
}

func TestComposeRespectsBudget(t *testing.T) {
	c := NewComposer(50)
	long := strings.Repeat("x", 200)
	p, err := c.Compose("topic", PlatformFacebook, ranked(
		search.Document{Content: long},
		search.Document{Content: "second doc that should not fit"},
	))
	require.NoError(t, err)

	assert.NotContains(t, p, "second doc")
	assert.Equal(t, 50, strings.Count(p, "x"), "first document should be truncated to the budget")
}

func TestComposeBudgetKeepsRunesIntact(t *testing.T) {
	// 51-byte budget lands mid-rune on two-byte characters
	c := NewComposer(51)
	p, err := c.Compose("tendências", PlatformFacebook, ranked(
		search.Document{Content: strings.Repeat("ã", 100)},
	))
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(p), "truncation must not split a rune")
	assert.Equal(t, 25, strings.Count(p, "ã"))
}

func TestComposeSkipsEmptyDocsAndUntitled(t *testing.T) {
	c := NewComposer(0)
	p, err := c.Compose("topic", PlatformInstagram, ranked(
		search.Document{Title: "Empty", Content: "   "},
		search.Document{Content: "untitled body"},
	))
	require.NoError(t, err)

	assert.NotContains(t, p, "Empty")
	assert.Contains(t, p, "untitled body")
	assert.NotContains(t, p, "**untitled")
}

func TestComposeErrors(t *testing.T) {
	c := NewComposer(0)

	_, err := c.Compose("  ", PlatformFacebook, ranked(search.Document{Content: "x"}))
	assert.Error(t, err, "empty topic")

	_, err = c.Compose("topic", PlatformFacebook, nil)
	assert.Error(t, err, "no context documents")

	_, err = c.Compose("topic", PlatformFacebook, ranked(search.Document{Content: " "}))
	assert.Error(t, err, "all documents empty")
}

func TestValidPlatform(t *testing.T) {
	assert.True(t, ValidPlatform(PlatformFacebook))
	assert.True(t, ValidPlatform(PlatformTiktok))
	assert.False(t, ValidPlatform("XYZ"))
	assert.False(t, ValidPlatform(""))
}
