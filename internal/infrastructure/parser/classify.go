package parser

import (
	"bytes"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"SleeperScout/internal/domain"
)

// Markers are the textual signals used to classify a page before extraction.
// Matching is case-insensitive on the raw body.
type Markers struct {
	NotFound []string
	// Block markers mean a verification wall regardless of status code.
	Block []string
	// Challenge markers only count on a challenge response: a 403 or 503,
	// or a page titled with one of ChallengeTitles. Ordinary pages behind
	// the same CDN carry these scripts too.
	Challenge       []string
	ChallengeTitles []string
	// WeakBlock markers only count on a 403.
	WeakBlock []string
}

// DefaultMarkers returns the signals observed on the source site.
func DefaultMarkers() Markers {
	return Markers{
		NotFound: []string{
			"존재하지 않는",
			"삭제된 소설",
			"삭제된 작품",
			"찾을 수 없는 작품",
		},
		Block: []string{
			"verify you are human",
			"2차 인증",
		},
		Challenge: []string{
			"cf-challenge",
			"challenge-platform",
			"just a moment...",
		},
		ChallengeTitles: []string{
			"just a moment",
			"attention required",
		},
		WeakBlock: []string{
			"captcha",
			"access denied",
			"접근이 제한",
		},
	}
}

// Classify decides whether a fetched page is extractable, definitively absent,
// an anti-automation wall, or some other unexpected response.
func (e *NovelExtractor) Classify(page domain.Page) domain.PageClass {
	return classify(page, e.markers)
}

func classify(page domain.Page, m Markers) domain.PageClass {
	if page.StatusCode == http.StatusTooManyRequests {
		return domain.PageBlocked
	}

	body := bytes.ToLower(page.Body)
	if containsAny(body, m.Block) {
		return domain.PageBlocked
	}
	if challengeResponse(page.StatusCode, body, m) {
		return domain.PageBlocked
	}
	if page.StatusCode == http.StatusForbidden && containsAny(body, m.WeakBlock) {
		return domain.PageBlocked
	}

	if page.StatusCode == http.StatusNotFound || page.StatusCode == http.StatusGone {
		return domain.PageNotFound
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		return domain.PageUnexpected
	}
	if redirectedToNotFound(page.FinalURL) || containsAny(body, m.NotFound) {
		return domain.PageNotFound
	}

	return domain.PageOK
}

var titlePattern = regexp.MustCompile(`(?s)<title[^>]*>(.*?)</title>`)

func challengeResponse(status int, body []byte, m Markers) bool {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		return containsAny(body, m.Challenge)
	}
	match := titlePattern.FindSubmatch(body)
	if match == nil {
		return false
	}
	return containsAny(bytes.TrimSpace(match[1]), m.ChallengeTitles)
}

func containsAny(body []byte, markers []string) bool {
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		if bytes.Contains(body, []byte(strings.ToLower(marker))) {
			return true
		}
	}
	return false
}

func redirectedToNotFound(finalURL string) bool {
	if finalURL == "" {
		return false
	}
	u, err := url.Parse(finalURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.HasSuffix(p, "/404") || strings.Contains(p, "notfound") || strings.Contains(p, "not_found")
}
