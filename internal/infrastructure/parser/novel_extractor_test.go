package parser

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SleeperScout/internal/domain"
)

const metadataPage = `<html><head>
<title>검은 탑의 마법사 - 노벨피아</title>
<meta property="og:title" content="검은 탑의 마법사 - 노벨피아">
<meta name="author" content="하늘바람">
<meta name="description" content="작가 : 하늘바람 | 선호작 1,234 | 회차 56 | 조회수 3.5만">
</head><body>
<span class="badge-19">19</span>
<span class="alarm_count">312</span>
<dl><dt>추천</dt><dd>2,001</dd></dl>
<div class="tags"><span class="tag">#판타지</span><span class="tag">#하렘</span><span class="tag">#판타지</span><span class="tag">#ff00aa</span></div>
<p>연재중</p>
</body></html>`

const fallbackPage = `<html><head><title>고요한 밤 | Novelpia</title></head><body>
<div class="info">작가 : 밤하늘 · 연재중</div>
<ul><li><span>선호</span><span>3만</span></li><li><span>에피소드</span><span>120</span></li></ul>
<p>#현대 #일상 #a1b2c3 #19금</p>
<p>완결</p>
<script>var marker = "#스크립트";</script>
</body></html>`

func newTestExtractor() *NovelExtractor {
	return NewNovelExtractor(DefaultMarkers(), nil)
}

func TestExtractFromMetadata(t *testing.T) {
	t.Parallel()

	ext := newTestExtractor().Extract(domain.Page{ID: 1, StatusCode: http.StatusOK, Body: []byte(metadataPage)})

	assert.Equal(t, "검은 탑의 마법사", ext.Title)
	assert.Equal(t, "하늘바람", ext.Author)
	assert.Equal(t, int64(1234), ext.FavoriteCount)
	assert.Equal(t, int64(56), ext.EpisodeCount)
	assert.Equal(t, int64(35000), ext.ViewCount)
	assert.Equal(t, int64(312), ext.AlarmCount)
	assert.Equal(t, int64(2001), ext.RecommendationCount)
	assert.Equal(t, []string{"판타지", "하렘"}, ext.Tags)
	assert.True(t, ext.IsMature)
	assert.False(t, ext.IsPremium)
	assert.False(t, ext.IsCompleted)
	assert.True(t, ext.FavoritesResolved)
	assert.True(t, ext.EpisodesResolved)
	assert.False(t, ext.Failed())
}

func TestExtractFallbacks(t *testing.T) {
	t.Parallel()

	ext := newTestExtractor().Extract(domain.Page{ID: 2, StatusCode: http.StatusOK, Body: []byte(fallbackPage)})

	assert.Equal(t, "고요한 밤", ext.Title)
	assert.Equal(t, "밤하늘", ext.Author)
	assert.Equal(t, int64(30000), ext.FavoriteCount)
	assert.Equal(t, int64(120), ext.EpisodeCount)
	assert.Equal(t, int64(0), ext.ViewCount)
	assert.Equal(t, []string{"현대", "일상", "19금"}, ext.Tags)
	assert.True(t, ext.IsMature, "19금 tag")
	assert.True(t, ext.IsCompleted)
	assert.False(t, ext.IsPremium)
}

func TestExtractFullTextRegexKeepsRealZero(t *testing.T) {
	t.Parallel()

	body := `<html><body><p>선호작 0 · 회차 0</p></body></html>`
	ext := newTestExtractor().Extract(domain.Page{ID: 3, StatusCode: http.StatusOK, Body: []byte(body)})

	assert.Equal(t, int64(0), ext.FavoriteCount)
	assert.Equal(t, int64(0), ext.EpisodeCount)
	assert.True(t, ext.FavoritesResolved)
	assert.True(t, ext.EpisodesResolved)
	assert.False(t, ext.Failed())
}

func TestExtractEmptyPageIsStructurallyComplete(t *testing.T) {
	t.Parallel()

	ext := newTestExtractor().Extract(domain.Page{ID: 4, StatusCode: http.StatusOK})

	assert.Equal(t, domain.UntitledPlaceholder, ext.Title)
	assert.Equal(t, domain.UnknownAuthorPlaceholder, ext.Author)
	assert.Zero(t, ext.FavoriteCount)
	assert.Zero(t, ext.EpisodeCount)
	require.NotNil(t, ext.Tags)
	assert.Empty(t, ext.Tags)
	assert.False(t, ext.IsMature)
	assert.True(t, ext.Failed())
}

func TestExtractPremiumFromTag(t *testing.T) {
	t.Parallel()

	body := `<html><body><a href="/search?tag=PLUS">PLUS</a><p>선호 40 회차 7</p></body></html>`
	ext := newTestExtractor().Extract(domain.Page{ID: 5, StatusCode: http.StatusOK, Body: []byte(body)})

	assert.Equal(t, []string{"PLUS"}, ext.Tags)
	assert.True(t, ext.IsPremium)
	assert.Equal(t, int64(40), ext.FavoriteCount)
	assert.Equal(t, int64(7), ext.EpisodeCount)
}

func TestStripSiteSuffix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "제목 - 노벨피아", want: "제목"},
		{in: "A - B - 노벨피아 - 웹소설로 꿈꾸는 세상", want: "A - B"},
		{in: "제목 | NOVELPIA", want: "제목"},
		{in: "그냥 - 제목", want: "그냥 - 제목"},
		{in: "노벨피아", want: "노벨피아"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stripSiteSuffix(tc.in), tc.in)
	}
}

func TestCleanTags(t *testing.T) {
	t.Parallel()

	got := CleanTags([]string{
		" #판타지 ", "판타지", "#fff", "#123456", "none", "display:none;", "",
		"이건정말로너무나도길어서태그라고볼수없는아주긴문자열입니다정말로요",
		"#로맨스,", "19",
	})
	assert.Equal(t, []string{"판타지", "로맨스", "19"}, got)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		page domain.Page
		want domain.PageClass
	}{
		{name: "ok", page: domain.Page{StatusCode: 200, Body: []byte("<p>선호 1</p>")}, want: domain.PageOK},
		{name: "rate limited", page: domain.Page{StatusCode: 429}, want: domain.PageBlocked},
		{name: "challenge body", page: domain.Page{StatusCode: 200, Body: []byte("<title>Just a moment...</title>")}, want: domain.PageBlocked},
		{name: "second factor", page: domain.Page{StatusCode: 200, Body: []byte("2차 인증이 필요합니다")}, want: domain.PageBlocked},
		{name: "forbidden with denial", page: domain.Page{StatusCode: 403, Body: []byte("Access Denied")}, want: domain.PageBlocked},
		{name: "challenge script on 503", page: domain.Page{StatusCode: 503, Body: []byte(`<script src="/cdn-cgi/challenge-platform/h/b/orchestrate/jsch/v1"></script>`)}, want: domain.PageBlocked},
		{name: "challenge script on 200", page: domain.Page{StatusCode: 200, Body: []byte(`<script src="/cdn-cgi/challenge-platform/scripts/jsd/main.js"></script>`)}, want: domain.PageOK},
		{name: "plain forbidden", page: domain.Page{StatusCode: 403}, want: domain.PageUnexpected},
		{name: "weak marker on 200", page: domain.Page{StatusCode: 200, Body: []byte("captcha.js")}, want: domain.PageOK},
		{name: "status not found", page: domain.Page{StatusCode: 404}, want: domain.PageNotFound},
		{name: "gone", page: domain.Page{StatusCode: 410}, want: domain.PageNotFound},
		{name: "server error", page: domain.Page{StatusCode: 502}, want: domain.PageUnexpected},
		{name: "deleted marker", page: domain.Page{StatusCode: 200, Body: []byte("존재하지 않는 소설입니다")}, want: domain.PageNotFound},
		{name: "redirected to 404", page: domain.Page{StatusCode: 200, FinalURL: "https://novelpia.com/404"}, want: domain.PageNotFound},
	}

	ext := newTestExtractor()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ext.Classify(tc.page))
		})
	}
}

func TestClassifyNovelPageWithCDNBeacon(t *testing.T) {
	t.Parallel()

	body := strings.Replace(metadataPage, "</body>",
		`<script>(function(){var a=document.createElement('script');a.src='/cdn-cgi/challenge-platform/scripts/jsd/main.js';document.head.appendChild(a);})();</script></body>`, 1)
	page := domain.Page{ID: 7, StatusCode: http.StatusOK, Body: []byte(body)}

	ext := newTestExtractor()
	require.Equal(t, domain.PageOK, ext.Classify(page))
	got := ext.Extract(page)
	assert.Equal(t, int64(1234), got.FavoriteCount)
	assert.Equal(t, int64(56), got.EpisodeCount)
}
