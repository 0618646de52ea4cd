package telegram

import (
	"bytes"
	"html"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
)

var md = goldmark.New()

// inline maps rendered HTML tags to the subset Telegram accepts.
var inline = map[string]string{
	"strong": "b", "b": "b",
	"em": "i", "i": "i",
	"del": "s", "s": "s",
	"u":    "u",
	"code": "code",
}

// Format renders composed markdown into Telegram's HTML parse mode.
// Block elements become line breaks; unsupported tags are dropped and their
// text kept. On a render failure the escaped source text is returned.
func Format(text string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return html.EscapeString(text)
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return html.EscapeString(text)
	}

	var out strings.Builder
	writeNodes(&out, doc.Find("body").Contents())
	return collapseBlankLines(strings.TrimSpace(out.String()))
}

func writeNodes(out *strings.Builder, nodes *goquery.Selection) {
	nodes.Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch name {
		case "#text":
			out.WriteString(html.EscapeString(s.Text()))
		case "a":
			href, _ := s.Attr("href")
			out.WriteString(`<a href="` + html.EscapeString(href) + `">`)
			writeNodes(out, s.Contents())
			out.WriteString("</a>")
		case "pre":
			out.WriteString("<pre>" + html.EscapeString(s.Text()) + "</pre>\n\n")
		case "blockquote":
			out.WriteString("<blockquote>")
			var inner strings.Builder
			writeNodes(&inner, s.Contents())
			out.WriteString(strings.TrimSpace(inner.String()))
			out.WriteString("</blockquote>\n\n")
		case "p", "h1", "h2", "h3", "h4", "h5", "h6":
			if strings.HasPrefix(name, "h") {
				out.WriteString("<b>")
				writeNodes(out, s.Contents())
				out.WriteString("</b>")
			} else {
				writeNodes(out, s.Contents())
			}
			out.WriteString("\n\n")
		case "ul", "ol":
			s.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
				if name == "ol" {
					out.WriteString(strconv.Itoa(i+1) + ". ")
				} else {
					out.WriteString("• ")
				}
				var inner strings.Builder
				writeNodes(&inner, li.Contents())
				out.WriteString(strings.TrimSpace(inner.String()))
				out.WriteString("\n")
			})
			out.WriteString("\n")
		case "br":
			out.WriteString("\n")
		case "hr":
			out.WriteString("———\n\n")
		default:
			if tag, ok := inline[name]; ok {
				out.WriteString("<" + tag + ">")
				writeNodes(out, s.Contents())
				out.WriteString("</" + tag + ">")
				return
			}
			writeNodes(out, s.Contents())
		}
	})
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
