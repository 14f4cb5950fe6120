package notify

import (
	"regexp"
	"strings"
)

var (
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

// ToMrkdwn converts the Markdown used in summaries to Slack's mrkdwn.
// Code spans are left untouched.
func ToMrkdwn(md string) string {
	return outsideCode(md, func(s string) string {
		return reBold.ReplaceAllString(s, "*$1*")
	}, func(code string) string {
		return "`" + code + "`"
	})
}

// ToTelegramHTML converts the Markdown used in summaries to Telegram's HTML
// subset.
func ToTelegramHTML(md string) string {
	return outsideCode(md, func(s string) string {
		return reBold.ReplaceAllString(escapeHTML(s), "<b>$1</b>")
	}, func(code string) string {
		return "<code>" + escapeHTML(code) + "</code>"
	})
}

// StripMarkdown removes bold and code markers, returning plain text.
func StripMarkdown(md string) string {
	return outsideCode(md, func(s string) string {
		return reBold.ReplaceAllString(s, "$1")
	}, func(code string) string {
		return code
	})
}

// outsideCode applies text to everything between inline code spans and
// code to the span contents.
func outsideCode(md string, text, code func(string) string) string {
	var b strings.Builder
	last := 0
	for _, m := range reInlineCode.FindAllStringSubmatchIndex(md, -1) {
		b.WriteString(text(md[last:m[0]]))
		b.WriteString(code(md[m[2]:m[3]]))
		last = m[1]
	}
	b.WriteString(text(md[last:]))
	return b.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
