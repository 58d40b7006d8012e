package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Run("drops fragment and lowercases host", func(t *testing.T) {
		got, err := NormalizeURL("https://Example.COM/Docs#section-2", false)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/Docs", got)
	})

	t.Run("keeps query by default", func(t *testing.T) {
		got, err := NormalizeURL("https://example.com/search?q=go&page=2", false)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/search?q=go&page=2", got)
	})

	t.Run("strips query when asked", func(t *testing.T) {
		got, err := NormalizeURL("https://example.com/search?q=go", true)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/search", got)
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		got, err := NormalizeURL("  https://example.com/a  ", false)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a", got)
	})

	t.Run("idempotent", func(t *testing.T) {
		once, err := NormalizeURL("HTTPS://Example.com/Path?b=2#frag", false)
		require.NoError(t, err)
		twice, err := NormalizeURL(once, false)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})

	t.Run("rejects relative urls", func(t *testing.T) {
		_, err := NormalizeURL("/relative/path", false)
		assert.Error(t, err)

		_, err = NormalizeURL("example.com/no-scheme", false)
		assert.Error(t, err)
	})
}

func TestURLPermutations(t *testing.T) {
	t.Run("covers scheme host and index variants", func(t *testing.T) {
		perms := URLPermutations("https://www.example.com/docs/")
		assert.Len(t, perms, 16)
		assert.Contains(t, perms, "http://example.com/docs")
		assert.Contains(t, perms, "https://example.com/docs/index.html")
		assert.Contains(t, perms, "https://www.example.com/docs/index.php")
		assert.Contains(t, perms, "http://www.example.com/docs/")
	})

	t.Run("equivalent inputs share permutation sets", func(t *testing.T) {
		a := URLPermutations("https://example.com/docs")
		b := URLPermutations("http://www.example.com/docs/index.html")
		assert.ElementsMatch(t, a, b)
	})

	t.Run("non-http scheme keeps its scheme", func(t *testing.T) {
		perms := URLPermutations("ftp://example.com/files")
		for _, p := range perms {
			assert.Contains(t, p, "ftp://")
		}
		assert.Len(t, perms, 8)
	})

	t.Run("unparseable input returns itself", func(t *testing.T) {
		perms := URLPermutations("::not a url::")
		assert.Equal(t, []string{"::not a url::"}, perms)
	})
}

func TestExtractBaseDomain(t *testing.T) {
	got, err := ExtractBaseDomain("https://docs.example.co.uk/path")
	require.NoError(t, err)
	assert.Equal(t, "example.co.uk", got)

	got, err = ExtractBaseDomain("https://www.example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", got)
}

func TestSameDomain(t *testing.T) {
	assert.True(t, SameDomain("https://docs.example.com/a", "https://www.example.com/b"))
	assert.False(t, SameDomain("https://example.com", "https://example.org"))
	assert.False(t, SameDomain("https://a.example.co.uk", "https://a.other.co.uk"))
}

func TestSameSubdomain(t *testing.T) {
	assert.True(t, SameSubdomain("https://www.example.com/a", "https://example.com/b"))
	assert.False(t, SameSubdomain("https://docs.example.com", "https://example.com"))
}

func TestIsSubdomainOf(t *testing.T) {
	assert.True(t, IsSubdomainOf("https://docs.example.com"))
	assert.False(t, IsSubdomainOf("https://example.com"))
	assert.False(t, IsSubdomainOf("https://www.example.com"))
}

func TestHasSignificantPath(t *testing.T) {
	assert.True(t, HasSignificantPath("https://example.com/docs"))
	assert.False(t, HasSignificantPath("https://example.com/"))
	assert.False(t, HasSignificantPath("https://example.com"))
}
