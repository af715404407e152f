package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/About", "https://example.com/About"},
		{"strips default https port", "https://example.com:443/x", "https://example.com/x"},
		{"strips default http port", "http://example.com:80/x", "http://example.com/x"},
		{"keeps explicit port", "https://example.com:8443/x", "https://example.com:8443/x"},
		{"drops fragment", "https://example.com/page#section", "https://example.com/page"},
		{"empty path becomes slash", "https://example.com", "https://example.com/"},
		{"sorts query params", "https://example.com/?b=2&a=1", "https://example.com/?a=1&b=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Canonicalize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	once, err := Canonicalize("HTTPS://Example.com:443/Path?b=2&a=1#frag")
	require.NoError(t, err)
	twice, err := Canonicalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestCanonicalizeRejectsBadURLs(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "not a url", "ftp://example.com/file", "mailto:x@example.com", "/relative/only"} {
		_, err := Canonicalize(in)
		assert.Error(t, err, in)
	}
}

func TestSameOrigin(t *testing.T) {
	t.Parallel()

	assert.True(t, SameOrigin("https://example.com/a", "https://example.com/b"))
	assert.True(t, SameOrigin("https://www.example.com/a", "https://example.com/b"))
	assert.False(t, SameOrigin("https://example.com/a", "https://other.com/a"))
	assert.False(t, SameOrigin("https://example.com/a", "https://sub.example.com/a"))
}
