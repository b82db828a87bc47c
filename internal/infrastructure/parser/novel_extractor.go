package parser

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"SleeperScout/internal/domain"
	"SleeperScout/internal/extract"
	"SleeperScout/internal/ports"
)

// counterField describes how to find one numeric counter on a novel page.
type counterField struct {
	name      string
	labels    []string // longest first, so 선호작 wins over 선호
	selectors []string
	pattern   *regexp.Regexp
}

func newCounterField(name string, labels, selectors []string) counterField {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = regexp.QuoteMeta(l)
	}
	expr := `(?i)(?:` + strings.Join(quoted, "|") + `)[\s:：]*([0-9][0-9,]*(?:\.[0-9]+)?\s*만?)`
	return counterField{
		name:      name,
		labels:    labels,
		selectors: selectors,
		pattern:   regexp.MustCompile(expr),
	}
}

var (
	favoritesField = newCounterField("favorites",
		[]string{"선호작", "선호수", "선호", "favorites", "favorite"},
		[]string{".fav_count", ".favorite_count", "[data-favorites]"})
	episodesField = newCounterField("episodes",
		[]string{"연재회차", "에피소드", "회차", "episodes", "episode"},
		[]string{".ep_count", ".episode_count", "[data-episodes]"})
	alarmsField = newCounterField("alarms",
		[]string{"알람수", "알람", "알림", "alarms"},
		[]string{".alarm_count", "[data-alarms]"})
	viewsField = newCounterField("views",
		[]string{"누적조회", "조회수", "조회", "views"},
		[]string{".view_count", "[data-views]"})
	recommendsField = newCounterField("recommendations",
		[]string{"추천수", "추천", "recommendations", "recommends"},
		[]string{".recommend_count", ".rec_count", "[data-recommends]"})
)

var (
	authorTextExpr = regexp.MustCompile(`(?:작가|글쓴이|author)\s*[:：]\s*([^\s|·/]+)`)
	completedExpr  = regexp.MustCompile(`(?:^|\s)완결(?:\s|$)`)
	matureTextExpr = regexp.MustCompile(`19금|청소년\s*이용\s*불가|성인\s*작품`)
	premiumExpr    = regexp.MustCompile(`플러스\s*(?:작품|전용)|PLUS\s*전용`)
)

var (
	matureBadges    = ".badge-19, .icon-19, .b_19, .ico_19, .adult"
	premiumBadges   = ".badge-plus, .plus_icon, .b_plus, .ico_plus"
	completedBadges = ".complete, .badge-complete, .b_comp"
	titleSelectors  = []string{".title", ".novel-title", ".epnew-novel-title", "h1"}
	authorSelectors = []string{".writer", ".author", ".writer-name", "a.writer"}
	tagSelectors    = ".tag_item, .tag, .tags a, a[href*='tag=']"
	labelCandidates = "span, div, dt, th, td, li, p, b, strong, em, label"
	siteSuffixes    = []string{"노벨피아", "novelpia"}

	matureTags    = []string{"19", "19금", "성인", "r18", "r-18", "성인물"}
	premiumTags   = []string{"플러스", "plus"}
	completedTags = []string{"완결"}
)

// page is the parsed view shared by every strategy of one extraction.
type page struct {
	doc         *goquery.Document
	text        string
	description string
}

// NovelExtractor implements the layered field extraction for novel pages.
type NovelExtractor struct {
	markers Markers
	logger  *slog.Logger
}

var _ ports.Extractor = (*NovelExtractor)(nil)

// NewNovelExtractor builds an extractor with the given classification markers.
func NewNovelExtractor(markers Markers, log *slog.Logger) *NovelExtractor {
	return &NovelExtractor{markers: markers, logger: log}
}

// Extract never fails: unparsable or empty content yields placeholders and
// zeroed counters with both Resolved flags false.
func (e *NovelExtractor) Extract(p domain.Page) domain.Extraction {
	pg, err := parsePage(p.Body)
	if err != nil {
		e.debug("parse page failed", "id", p.ID, "error", err)
		return domain.Extraction{
			Title:  domain.UntitledPlaceholder,
			Author: domain.UnknownAuthorPlaceholder,
			Tags:   []string{},
		}
	}

	favorites := extractCounter(pg, favoritesField)
	episodes := extractCounter(pg, episodesField)
	tags := extract.FirstOf(pg, tagElements, hashtagScan).Or([]string{})

	ext := domain.Extraction{
		Title:               extract.FirstOf(pg, metaTitle, selectorTitle, documentTitle).Or(domain.UntitledPlaceholder),
		Author:              extract.FirstOf(pg, metaAuthor, selectorAuthor, textAuthor).Or(domain.UnknownAuthorPlaceholder),
		FavoriteCount:       favorites.Value,
		EpisodeCount:        episodes.Value,
		AlarmCount:          extractCounter(pg, alarmsField).Value,
		ViewCount:           extractCounter(pg, viewsField).Value,
		RecommendationCount: extractCounter(pg, recommendsField).Value,
		Tags:                tags,
		FavoritesResolved:   favorites.Found,
		EpisodesResolved:    episodes.Found,
	}

	ext.IsMature = extract.AnyOf(pg,
		hasBadge(matureBadges),
		func(pg *page) bool { return matureTextExpr.MatchString(pg.text) },
		func(*page) bool { return hasTag(tags, matureTags) },
	)
	ext.IsPremium = extract.AnyOf(pg,
		hasBadge(premiumBadges),
		func(pg *page) bool { return premiumExpr.MatchString(pg.text) },
		func(*page) bool { return hasTag(tags, premiumTags) },
	)
	ext.IsCompleted = extract.AnyOf(pg,
		hasBadge(completedBadges),
		func(pg *page) bool { return completedExpr.MatchString(pg.text) },
		func(*page) bool { return hasTag(tags, completedTags) },
	)

	e.debug("extracted page",
		"id", p.ID,
		"title", ext.Title,
		"favorites", ext.FavoriteCount,
		"episodes", ext.EpisodeCount,
		"tags", len(ext.Tags),
		"resolved", !ext.Failed(),
	)
	return ext
}

func parsePage(body []byte) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	description := metaContent(doc, "meta[name='description']", "meta[property='og:description']")

	doc.Find("script, style, noscript").Remove()
	text := collapseSpace(doc.Find("body").Text())

	return &page{doc: doc, text: text, description: description}, nil
}

func extractCounter(pg *page, field counterField) extract.Result[int64] {
	return extract.FirstOf(pg,
		func(pg *page) extract.Result[int64] { return regexCounter(pg.description, field) },
		func(pg *page) extract.Result[int64] { return selectorCounter(pg, field) },
		func(pg *page) extract.Result[int64] { return labeledCounter(pg, field) },
		func(pg *page) extract.Result[int64] { return regexCounter(pg.text, field) },
	)
}

func regexCounter(text string, field counterField) extract.Result[int64] {
	if text == "" {
		return extract.NotFound[int64]()
	}
	m := field.pattern.FindStringSubmatch(text)
	if m == nil {
		return extract.NotFound[int64]()
	}
	return extract.ParseNumeric(m[1])
}

func selectorCounter(pg *page, field counterField) extract.Result[int64] {
	for _, sel := range field.selectors {
		node := pg.doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		for _, attr := range []string{"data-" + field.name, "data-count", "content"} {
			if v, ok := node.Attr(attr); ok {
				if res := extract.ParseNumeric(v); res.Found {
					return res
				}
			}
		}
		if res := extract.ParseNumeric(node.Text()); res.Found {
			return res
		}
	}
	return extract.NotFound[int64]()
}

// labeledCounter finds an element whose whole text is a known label and
// reads the number sitting next to it.
func labeledCounter(pg *page, field counterField) extract.Result[int64] {
	result := extract.NotFound[int64]()
	pg.doc.Find(labelCandidates).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := collapseSpace(s.Text())
		if !isLabel(label, field.labels) {
			return true
		}
		candidates := []string{
			s.Next().Text(),
			s.Parent().Next().Text(),
			strings.Replace(collapseSpace(s.Parent().Text()), label, "", 1),
		}
		for _, c := range candidates {
			if res := extract.ParseNumeric(leadingNumber(c)); res.Found {
				result = res
				return false
			}
		}
		return true
	})
	return result
}

var leadingNumberExpr = regexp.MustCompile(`^[\s:：]*([0-9][0-9,]*(?:\.[0-9]+)?\s*만?)`)

func leadingNumber(text string) string {
	m := leadingNumberExpr.FindStringSubmatch(collapseSpace(text))
	if m == nil {
		return ""
	}
	return m[1]
}

func isLabel(text string, labels []string) bool {
	text = strings.TrimRight(text, ":： ")
	for _, l := range labels {
		if strings.EqualFold(text, l) {
			return true
		}
	}
	return false
}

func metaTitle(pg *page) extract.Result[string] {
	return nonEmpty(stripSiteSuffix(metaContent(pg.doc, "meta[property='og:title']", "meta[name='twitter:title']")))
}

func selectorTitle(pg *page) extract.Result[string] {
	for _, sel := range titleSelectors {
		if res := nonEmpty(collapseSpace(pg.doc.Find(sel).First().Text())); res.Found {
			return res
		}
	}
	return extract.NotFound[string]()
}

func documentTitle(pg *page) extract.Result[string] {
	return nonEmpty(stripSiteSuffix(collapseSpace(pg.doc.Find("title").First().Text())))
}

func metaAuthor(pg *page) extract.Result[string] {
	return nonEmpty(metaContent(pg.doc,
		"meta[name='author']",
		"meta[property='og:novel:author']",
		"meta[property='book:author']",
		"meta[name='twitter:creator']",
	))
}

func selectorAuthor(pg *page) extract.Result[string] {
	for _, sel := range authorSelectors {
		if res := nonEmpty(collapseSpace(pg.doc.Find(sel).First().Text())); res.Found {
			return res
		}
	}
	return extract.NotFound[string]()
}

func textAuthor(pg *page) extract.Result[string] {
	m := authorTextExpr.FindStringSubmatch(pg.text)
	if m == nil {
		return extract.NotFound[string]()
	}
	return nonEmpty(m[1])
}

func hasBadge(selector string) func(*page) bool {
	return func(pg *page) bool {
		return pg.doc.Find(selector).Length() > 0
	}
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = collapseSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func stripSiteSuffix(title string) string {
	for _, sep := range []string{" - ", " | ", " :: "} {
		parts := strings.Split(title, sep)
		for i := 1; i < len(parts); i++ {
			if isSiteName(parts[i]) {
				return strings.TrimSpace(strings.Join(parts[:i], sep))
			}
		}
	}
	return title
}

func isSiteName(part string) bool {
	part = strings.ToLower(part)
	for _, site := range siteSuffixes {
		if strings.Contains(part, site) {
			return true
		}
	}
	return false
}

func nonEmpty(s string) extract.Result[string] {
	s = norm.NFC.String(strings.TrimSpace(s))
	if s == "" {
		return extract.NotFound[string]()
	}
	return extract.Found(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (e *NovelExtractor) debug(msg string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
