// Package format renders the Markdown subset produced by chat models as
// Telegram-flavoured HTML.
package format

import (
	"regexp"
	"strings"
)

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

var heading = regexp.MustCompile(`^#{1,6}\s+`)

// Escape makes s safe for Telegram HTML text nodes.
func Escape(s string) string {
	return escaper.Replace(s)
}

// TelegramHTML converts a fragment to HTML. inCode and lang describe a code
// fence left open by a previous fragment; the block is reopened here and any
// fence still open at the end of the fragment is closed.
func TelegramHTML(text string, inCode bool, lang string) string {
	var b strings.Builder
	b.Grow(len(text) + 32)
	if inCode {
		b.WriteString(openPre(lang))
	}
	for _, raw := range strings.SplitAfter(text, "\n") {
		if raw == "" {
			continue
		}
		line, nl := strings.CutSuffix(raw, "\n")
		t := strings.TrimSpace(line)

		if strings.HasPrefix(t, "```") {
			if inCode {
				b.WriteString("</code></pre>")
				inCode = false
				if nl {
					b.WriteByte('\n')
				}
			} else {
				b.WriteString(openPre(strings.TrimSpace(t[3:])))
				inCode = true
			}
			continue
		}

		switch {
		case inCode:
			b.WriteString(Escape(line))
		case heading.MatchString(line):
			b.WriteString("<b>")
			b.WriteString(inline(heading.ReplaceAllString(line, "")))
			b.WriteString("</b>")
		default:
			b.WriteString(inline(line))
		}
		if nl {
			b.WriteByte('\n')
		}
	}
	if inCode {
		b.WriteString("</code></pre>")
	}
	return b.String()
}

func openPre(lang string) string {
	if lang == "" {
		return "<pre><code>"
	}
	return `<pre><code class="language-` + attrEscaper.Replace(lang) + `">`
}

// inline handles `code`, **bold** and [label](http...) links. Unterminated
// markers are emitted literally.
func inline(s string) string {
	var b strings.Builder
	plain := 0
	flush := func(end int) {
		b.WriteString(Escape(s[plain:end]))
	}
	for i := 0; i < len(s); {
		switch {
		case s[i] == '`':
			if j := strings.IndexByte(s[i+1:], '`'); j >= 0 {
				flush(i)
				b.WriteString("<code>" + Escape(s[i+1:i+1+j]) + "</code>")
				i += j + 2
				plain = i
				continue
			}
		case strings.HasPrefix(s[i:], "**"):
			if j := strings.Index(s[i+2:], "**"); j > 0 {
				flush(i)
				b.WriteString("<b>" + inline(s[i+2:i+2+j]) + "</b>")
				i += j + 4
				plain = i
				continue
			}
		case s[i] == '[':
			if label, url, n, ok := link(s[i:]); ok {
				flush(i)
				b.WriteString(`<a href="` + attrEscaper.Replace(url) + `">` + Escape(label) + "</a>")
				i += n
				plain = i
				continue
			}
		}
		i++
	}
	flush(len(s))
	return b.String()
}

func link(s string) (label, url string, n int, ok bool) {
	mid := strings.Index(s, "](")
	if mid < 1 {
		return "", "", 0, false
	}
	end := strings.IndexByte(s[mid+2:], ')')
	if end < 0 {
		return "", "", 0, false
	}
	label = s[1:mid]
	url = s[mid+2 : mid+2+end]
	if strings.ContainsAny(label, "[]") {
		return "", "", 0, false
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", "", 0, false
	}
	return label, url, mid + 2 + end + 1, true
}
