package excerpt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	got := PlainText(`<p>Show HN: I built a <a href="https://x.dev">thing</a></p><p>It&#x27;s small.<script>alert(1)</script></p>`)
	got = collapse(got)
	assert.Equal(t, "Show HN: I built a thing It's small.", got)
}

func TestPlainText_Malformed(t *testing.T) {
	got := collapse(PlainText(`<p>unclosed <i>italic`))
	assert.Equal(t, "unclosed italic", got)
}

func TestFromHTML_Empty(t *testing.T) {
	assert.Equal(t, "", FromHTML("", 100))
	assert.Equal(t, "", FromHTML("   \n", 100))
}

func TestFromHTML_Fragment(t *testing.T) {
	got := FromHTML(`<p>We are hiring Go engineers to work on <i>storage</i>.</p><p>Remote friendly.</p>`, DefaultLength)
	assert.Contains(t, got, "hiring Go engineers")
	assert.NotContains(t, got, "<")
	assert.NotContains(t, got, "\n")
}

func TestFromHTML_Truncates(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("<p>Paragraph with several words to make the text long.</p>")
	}
	got := FromHTML(sb.String(), 120)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 120)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"the quick brown fox jumps", 12, "the quick…"},
		{"héllo wörld ünïcode", 9, "héllo…"},
		{"abcdefghijkl", 6, "abcde…"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got := Truncate(tc.in, tc.max)
			assert.Equal(t, tc.want, got)
			assert.LessOrEqual(t, utf8.RuneCountInString(got), tc.max)
		})
	}
}
