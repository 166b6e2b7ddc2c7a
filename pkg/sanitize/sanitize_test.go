package sanitize

import (
	"math/rand"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain text", in: "  Your balance is 1.5 BNB  ", want: "Your balance is 1.5 BNB"},
		{name: "simple list", in: "<ul><li>a</li><li>b</li></ul>", want: "- a\n- b"},
		{
			name: "list between text",
			in:   "Options:<ul>\n  <li>Stake</li>\n  <li>Swap</li>\n</ul>Pick one",
			want: "Options:\n- Stake\n- Swap\nPick one",
		},
		{name: "list with attributes", in: `<UL class="x"><LI id="1">one</LI></UL>`, want: "- one"},
		{name: "allowed tags kept", in: "<b>bold</b> <i>it</i> <code>0xabc</code>", want: "<b>bold</b> <i>it</i> <code>0xabc</code>"},
		{
			name: "link keeps href only",
			in:   `<a href="https://bscscan.com/tx/0x1" target="_blank" onclick="x()">tx</a>`,
			want: `<a href="https://bscscan.com/tx/0x1">tx</a>`,
		},
		{name: "javascript link dropped", in: `<a href="javascript:alert(1)">x</a>`, want: "x"},
		{name: "disallowed tags stripped", in: "<p>Hello <strong>there</strong></p><br>", want: "Hello there"},
		{name: "script removed with content", in: "ok<script>alert(1)</script>", want: "ok"},
		{name: "attributes stripped from b", in: `<b style="color:red">x</b>`, want: "<b>x</b>"},
		{name: "markdown left alone", in: "**bold** and `code`", want: "**bold** and `code`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

// fragment generates agent-like HTML from a small vocabulary so the property
// checks exercise tag handling instead of random bytes.
type fragment string

var vocabulary = []string{
	"<b>", "</b>", "<i>", "</i>", "<code>", "</code>", "<ul>", "</ul>", "<li>", "</li>",
	"<p>", "</p>", "<div class=\"x\">", "</div>", "<a href=\"https://example.com\">", "</a>",
	"<a>", "<span>", "</span>", "<br/>", "<script>", "</script>", "&amp;", "&lt;", "<",
	">", "&", "\"", "'", " ", "\n", "\t", "swap", "1.5", "BNB", "0xdead", "ok",
}

func (fragment) Generate(r *rand.Rand, size int) reflect.Value {
	var b strings.Builder
	n := r.Intn(size + 1)
	for i := 0; i < n; i++ {
		b.WriteString(vocabulary[r.Intn(len(vocabulary))])
	}
	return reflect.ValueOf(fragment(b.String()))
}

func TestSanitizeIdempotent(t *testing.T) {
	prop := func(f fragment) bool {
		once := Sanitize(string(f))
		return Sanitize(once) == once
	}
	require.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 500}))
}

var tagPattern = regexp.MustCompile(`<\s*/?\s*([a-zA-Z0-9]+)([^>]*)>`)

func TestSanitizeAllowList(t *testing.T) {
	prop := func(f fragment) bool {
		out := Sanitize(string(f))
		for _, m := range tagPattern.FindAllStringSubmatch(out, -1) {
			switch strings.ToLower(m[1]) {
			case "b", "i", "code":
				if strings.TrimSpace(m[2]) != "" {
					return false
				}
			case "a":
				attrs := strings.TrimSpace(m[2])
				if attrs != "" && !strings.HasPrefix(attrs, "href=") {
					return false
				}
			default:
				return false
			}
		}
		return out == strings.TrimSpace(out)
	}
	require.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 500}))
}
