package progress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBarRender(t *testing.T) {
	b := NewBar("pulling test/tiny-sd", 2000, 0)
	b.Set(500, 0)

	got := b.render(100)
	assert.True(t, strings.HasPrefix(got, "pulling test/tiny-sd  25% ▕"), "balken: %q", got)
	assert.Contains(t, got, "(500 B/2.0 KB)")

	b.Set(5000, 0)
	assert.Contains(t, b.render(100), "100%")

	b.Set(4000, 8000)
	assert.Contains(t, b.render(100), " 50% ")
}

func TestBarNarrowTerminal(t *testing.T) {
	b := NewBar("x", 10, 5)
	got := b.render(10)
	assert.NotContains(t, got, "▕", "zu schmal fuer einen balken: %q", got)
}

func TestProgressStop(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)
	b := NewBar("laden", 10, 0)
	p.Add(b)
	b.Set(10, 0)

	assert.True(t, p.Stop())
	assert.False(t, p.Stop())
	assert.Contains(t, buf.String(), "100%")
	assert.True(t, strings.HasSuffix(buf.String(), "\033[?25h"))
}
