package content

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyAcceptsVideoIDs(t *testing.T) {
	for _, raw := range []string{"dQw4w9WgXcQ", "abc_DEF-123", "a"} {
		key, err := ParseKey(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, key.String())
	}
}

func TestParseKeyRejectsUnsafeInput(t *testing.T) {
	cases := []string{
		"",
		"../etc/passwd",
		"abc/def",
		"abc def",
		"abc;rm -rf",
		"$(id)",
		"abc.mp3",
		strings.Repeat("a", 65),
	}
	for _, raw := range cases {
		_, err := ParseKey(raw)
		assert.True(t, errors.Is(err, ErrInvalidKey), "expected ErrInvalidKey for %q, got %v", raw, err)
	}
}

func TestParseFormatDefaultsAndValidates(t *testing.T) {
	format, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, Format(DefaultFormat), format)

	format, err = ParseFormat("bestaudio[ext=m4a]/bestaudio")
	require.NoError(t, err)
	assert.Equal(t, Format("bestaudio[ext=m4a]/bestaudio"), format)

	for _, raw := range []string{"--exec=sh", "best audio", "best;id", "`id`"} {
		_, err := ParseFormat(raw)
		assert.True(t, errors.Is(err, ErrInvalidFormat), "expected ErrInvalidFormat for %q", raw)
	}
}

func TestParseFormatOrUsesFallback(t *testing.T) {
	format, err := ParseFormatOr(" ", Format("140"))
	require.NoError(t, err)
	assert.Equal(t, Format("140"), format)
}
