package matrix

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/bdobrica/Rinko/internal/rinko/chat"
)

const replyHint = "Reply with a number to choose."

var (
	boldRe   = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicRe = regexp.MustCompile(`(^|[\s(])_([^_\n]+)_`)
	codeRe   = regexp.MustCompile("`([^`\n]+)`")
)

// render turns msg into a plain body and an HTML body. Markdown follows the
// Telegram legacy dialect (*bold*, _italic_, `code`). Data buttons become a
// numbered list; the returned slice holds their callback data in list
// order.
func render(msg chat.Message) (plain, formatted string, data []string) {
	plain = msg.Text
	formatted = html.EscapeString(msg.Text)
	if msg.Markdown {
		plain = stripMarkdown(msg.Text)
		formatted = markdownToHTML(msg.Text)
	}

	var plainLines, htmlLines []string
	for _, row := range msg.Buttons {
		for _, btn := range row {
			switch {
			case btn.Data != "":
				data = append(data, btn.Data)
				n := len(data)
				plainLines = append(plainLines, fmt.Sprintf("%d. %s", n, btn.Label))
				htmlLines = append(htmlLines, fmt.Sprintf("<b>%d.</b> %s", n, html.EscapeString(btn.Label)))
			case btn.URL != "":
				plainLines = append(plainLines, fmt.Sprintf("🔗 %s: %s", btn.Label, btn.URL))
				htmlLines = append(htmlLines, fmt.Sprintf(`🔗 <a href="%s">%s</a>`, html.EscapeString(btn.URL), html.EscapeString(btn.Label)))
			}
		}
	}
	if len(plainLines) > 0 {
		if len(data) > 0 {
			plainLines = append(plainLines, "", replyHint)
			htmlLines = append(htmlLines, "", "<i>"+replyHint+"</i>")
		}
		plain += "\n\n" + strings.Join(plainLines, "\n")
		formatted += "\n\n" + strings.Join(htmlLines, "\n")
	}
	return plain, strings.ReplaceAll(formatted, "\n", "<br>"), data
}

func markdownToHTML(s string) string {
	s = html.EscapeString(s)
	s = codeRe.ReplaceAllString(s, "<code>$1</code>")
	s = boldRe.ReplaceAllString(s, "<b>$1</b>")
	return italicRe.ReplaceAllString(s, "$1<i>$2</i>")
}

func stripMarkdown(s string) string {
	s = codeRe.ReplaceAllString(s, "$1")
	s = boldRe.ReplaceAllString(s, "$1")
	return italicRe.ReplaceAllString(s, "$1$2")
}

// keycap is the suffix of the 1️⃣ … 9️⃣ reaction keys.
const keycap = "\ufe0f\u20e3"

// choice parses a numbered reply ("2", "2.", "#2") or a keycap reaction
// ("2️⃣"). The result is 1-based.
func choice(s string) (int, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, keycap)
	s = strings.TrimSuffix(s, "\u20e3")
	s = strings.TrimSuffix(strings.TrimPrefix(s, "#"), ".")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
