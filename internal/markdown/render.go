// Package markdown renders the small inline subset the assistant emits
// (bold, italic, inline code, line breaks) into HTML. Everything else in
// the input, including raw HTML, is escaped.
package markdown

import "strings"

// Escape HTML-escapes s for safe insertion into element content.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	escapeTo(&b, s)
	return b.String()
}

func escapeTo(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#39;")
		default:
			b.WriteRune(r)
		}
	}
}

// Render converts inline markdown to HTML in a single left-to-right pass.
// Delimiters without a closing partner are emitted literally, and newlines
// become <br>.
func Render(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	render(&b, s, true)
	return b.String()
}

func render(b *strings.Builder, s string, allowBold bool) {
	for i := 0; i < len(s); {
		switch {
		case allowBold && strings.HasPrefix(s[i:], "**"):
			end := strings.Index(s[i+2:], "**")
			if end < 0 {
				escapeTo(b, s[i:i+2])
				i += 2
				continue
			}
			b.WriteString("<strong>")
			render(b, s[i+2:i+2+end], false)
			b.WriteString("</strong>")
			i += 2 + end + 2
		case s[i] == '*':
			end := strings.IndexByte(s[i+1:], '*')
			if end < 0 {
				b.WriteByte('*')
				i++
				continue
			}
			b.WriteString("<em>")
			escapeTo(b, s[i+1:i+1+end])
			b.WriteString("</em>")
			i += 1 + end + 1
		case s[i] == '`':
			end := strings.IndexByte(s[i+1:], '`')
			if end < 0 {
				b.WriteByte('`')
				i++
				continue
			}
			b.WriteString("<code>")
			escapeTo(b, s[i+1:i+1+end])
			b.WriteString("</code>")
			i += 1 + end + 1
		case s[i] == '\n':
			b.WriteString("<br>")
			i++
		default:
			next := strings.IndexAny(s[i:], "*`\n<>&\"'")
			if next < 0 {
				b.WriteString(s[i:])
				return
			}
			if next > 0 {
				b.WriteString(s[i : i+next])
				i += next
				continue
			}
			escapeTo(b, s[i:i+1])
			i++
		}
	}
}
