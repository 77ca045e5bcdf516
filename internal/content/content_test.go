package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestReadTime(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty body is one minute", "", 1},
		{"one word", "hello", 1},
		{"exactly 200 words", words(200), 1},
		{"201 words rounds up", words(201), 2},
		{"400 words", words(400), 2},
		{"1000 words", words(1000), 5},
		{"mixed whitespace runs count once", "a  \n\t b \r\n c", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReadTime(tt.body))
		})
	}
}

func TestReadTimeMonotonic(t *testing.T) {
	prev := 0
	for n := 0; n <= 1200; n += 37 {
		got := ReadTime(words(n))
		assert.GreaterOrEqual(t, got, prev, "n=%d", n)
		assert.GreaterOrEqual(t, got, 1)
		assert.Equal(t, got, ReadTime(words(n)), "stable across calls")
		prev = got
	}
}

func TestExcerpt(t *testing.T) {
	t.Run("short text is returned stripped", func(t *testing.T) {
		assert.Equal(t, "Hello world", Excerpt("<p>Hello <b>world</b></p>"))
	})

	t.Run("exactly 160 characters is not cut", func(t *testing.T) {
		body := strings.Repeat("a", 160)
		assert.Equal(t, body, Excerpt(body))
	})

	t.Run("long text is cut with ellipsis", func(t *testing.T) {
		body := strings.Repeat("b", 200)
		got := Excerpt(body)
		assert.Equal(t, strings.Repeat("b", 160)+"...", got)
	})

	t.Run("trailing space before ellipsis is trimmed", func(t *testing.T) {
		body := strings.Repeat("c", 159) + " " + strings.Repeat("d", 50)
		assert.Equal(t, strings.Repeat("c", 159)+"...", Excerpt(body))
	})

	t.Run("cut counts characters not bytes", func(t *testing.T) {
		body := strings.Repeat("é", 170)
		got := Excerpt(body)
		assert.Equal(t, strings.Repeat("é", 160)+"...", got)
	})

	t.Run("tags do not count toward the limit", func(t *testing.T) {
		body := "<div>" + strings.Repeat("x", 150) + "</div><span></span>"
		assert.Equal(t, strings.Repeat("x", 150), Excerpt(body))
	})
}
