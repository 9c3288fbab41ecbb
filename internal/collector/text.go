package collector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// normalizeText 去掉每行首尾空白并删除空行
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			kept = append(kept, ln)
		}
	}
	return strings.Join(kept, "\n")
}

// TruncateRunes 按 rune 数截断，保证不会把多字节字符截成半个
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// htmlToText 将 HTML 片段转为纯文本：每个文本节点独占一行，随后做空白规整。
// 解析失败时原样返回输入。
func htmlToText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return normalizeText(fragment)
	}

	var parts []string
	var walk func(sel *goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "#text":
				parts = append(parts, c.Text())
			case "script", "style":
			default:
				walk(c)
			}
		})
	}
	walk(doc.Selection)

	return normalizeText(strings.Join(parts, "\n"))
}

// cleanContent 规整并截断到 MaxContentLength，结果为空时返回 nil
func cleanContent(s string) *string {
	s = TruncateRunes(normalizeText(s), MaxContentLength)
	if s == "" {
		return nil
	}
	return &s
}
