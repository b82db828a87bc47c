package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"SleeperScout/internal/extract"
)

const maxTagRunes = 30

var (
	hashtagExpr = regexp.MustCompile(`#([^\s#,]+)`)
	hexLikeExpr = regexp.MustCompile(`^[0-9a-fA-F]{3,8}$`)

	// Tokens that leak into hashtag scans from inline CSS, anchors and widgets.
	tagArtifacts = map[string]struct{}{
		"none": {}, "hidden": {}, "top": {}, "main": {}, "content": {},
		"wrap": {}, "wrapper": {}, "header": {}, "footer": {}, "nav": {},
		"container": {}, "app": {}, "root": {}, "important": {}, "void": {},
		"comment": {}, "comments": {}, "share": {}, "tag": {}, "태그": {},
	}
)

func tagElements(pg *page) extract.Result[[]string] {
	var raw []string
	pg.doc.Find(tagSelectors).Each(func(_ int, s *goquery.Selection) {
		raw = append(raw, s.Text())
	})
	return nonEmptyTags(CleanTags(raw))
}

func hashtagScan(pg *page) extract.Result[[]string] {
	var raw []string
	for _, m := range hashtagExpr.FindAllStringSubmatch(pg.text, -1) {
		raw = append(raw, m[1])
	}
	return nonEmptyTags(CleanTags(raw))
}

func nonEmptyTags(tags []string) extract.Result[[]string] {
	if len(tags) == 0 {
		return extract.NotFound[[]string]()
	}
	return extract.Found(tags)
}

// CleanTags normalizes raw tag tokens, drops noise and de-duplicates while
// keeping first-seen order.
func CleanTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, token := range raw {
		tag, ok := cleanTag(token)
		if !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func cleanTag(token string) (string, bool) {
	tag := strings.TrimSpace(token)
	tag = strings.TrimLeft(tag, "#")
	tag = strings.TrimRight(tag, ".,;:!?)]}\"'")
	tag = norm.NFC.String(tag)

	if tag == "" || utf8.RuneCountInString(tag) > maxTagRunes {
		return "", false
	}
	if hexLikeExpr.MatchString(tag) {
		return "", false
	}
	if strings.ContainsAny(tag, "{}()=:;/<>!") {
		return "", false
	}
	if _, artifact := tagArtifacts[strings.ToLower(tag)]; artifact {
		return "", false
	}
	return tag, true
}

func hasTag(tags, wanted []string) bool {
	for _, tag := range tags {
		for _, w := range wanted {
			if strings.EqualFold(tag, w) {
				return true
			}
		}
	}
	return false
}
