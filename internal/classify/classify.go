// Package classify maps message text and embedded URLs to storage-provider
// categories and performs the keyword/hyperlink rewrites applied before a
// message is forwarded. All functions are pure text transforms.
package classify

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Category is one of the closed set of storage-provider categories.
type Category string

const (
	CategoryMagnet Category = "magnet"
	CategoryUC     Category = "uc"
	CategoryMobile Category = "mobile"
	CategoryTianyi Category = "tianyi"
	CategoryQuark  Category = "quark"
	Category115    Category = "115"
	CategoryAliyun Category = "aliyun"
	CategoryPikPak Category = "pikpak"
	CategoryBaidu  Category = "baidu"
	CategoryOthers Category = "others"
)

// categoryDomains is matched in order; the first category whose domain
// list matches the URL host wins.
var categoryDomains = []struct {
	Cat     Category
	Domains []string
}{
	{CategoryUC, []string{"drive.uc.cn"}},
	{CategoryMobile, []string{"caiyun.139.com"}},
	{CategoryTianyi, []string{"cloud.189.cn"}},
	{CategoryQuark, []string{"pan.quark.cn"}},
	{Category115, []string{"115cdn.com", "115.com", "anxia.com"}},
	{CategoryAliyun, []string{"alipan.com", "aliyundrive.com"}},
	{CategoryPikPak, []string{"mypikpak.com"}},
	{CategoryBaidu, []string{"pan.baidu.com"}},
}

// StorageKeywords is the fixed provider keyword list; a message that
// contains none of these is never forwarded (final send-time filter).
var StorageKeywords = []string{
	"magnet", "drive.uc.cn", "caiyun.139.com", "cloud.189.cn",
	"pan.quark.cn", "115cdn.com", "115.com", "anxia.com",
	"alipan.com", "aliyundrive.com", "pan.baidu.com", "mypikpak.com",
}

// Categories returns the closed category set, rewrite-rule keys are
// validated against it at config load.
func Categories() []Category {
	cats := make([]Category, 0, len(categoryDomains)+2)
	cats = append(cats, CategoryMagnet)
	for _, e := range categoryDomains {
		cats = append(cats, e.Cat)
	}
	return append(cats, CategoryOthers)
}

// linkPattern matches magnet URIs and http(s) URLs. Go's RE2 has no
// negative lookahead, so internal t.me links are filtered in code.
var linkPattern = regexp.MustCompile(`(?i)(https?://[^\s'】\n]+|magnet:\?xt=urn:btih:[a-zA-Z0-9]+)`)

func isInternalLink(link string) bool {
	l := strings.ToLower(link)
	return strings.HasPrefix(l, "https://t.me") || strings.HasPrefix(l, "http://t.me")
}

// ExtractLink returns the first magnet URI or external URL found in text.
func ExtractLink(text string) (string, bool) {
	for _, m := range linkPattern.FindAllString(text, -1) {
		if !isInternalLink(m) {
			return m, true
		}
	}
	return "", false
}

// ExtractURLs returns every plain http(s)/magnet link in text, internal
// links excluded. Used by the redirect resolver on bot replies.
func ExtractURLs(text string) []string {
	var out []string
	for _, m := range linkPattern.FindAllString(text, -1) {
		if !isInternalLink(m) {
			out = append(out, m)
		}
	}
	return out
}

// Categorize maps a URL to its storage-provider category. Magnet URIs
// always classify as magnet regardless of any domain substring they carry.
func Categorize(rawURL string) Category {
	if strings.HasPrefix(strings.ToLower(rawURL), "magnet:") {
		return CategoryMagnet
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return CategoryOthers
	}
	host := strings.ToLower(u.Host)
	for _, e := range categoryDomains {
		for _, d := range e.Domains {
			if strings.Contains(host, d) {
				return e.Cat
			}
		}
	}
	return CategoryOthers
}

// CategorizeAll buckets links by category, preserving input order inside
// each bucket.
func CategorizeAll(links []string) map[Category][]string {
	out := make(map[Category][]string, len(links))
	for _, l := range links {
		c := Categorize(l)
		out[c] = append(out[c], l)
	}
	return out
}

// ContainsAny reports whether s contains at least one of the keywords.
// An empty keyword list never matches.
func ContainsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// ExcludesAll reports whether s contains none of the keywords. An empty
// exclude list always passes.
func ExcludesAll(s string, keywords []string) bool {
	return !ContainsAny(s, keywords)
}

// RewriteHyperlinks replaces configured keyword substrings with the first
// resolved link of the matching category. Categories are visited in the
// fixed table order so the result is deterministic.
func RewriteHyperlinks(text string, links []string, rules map[Category][]string) string {
	if len(links) == 0 || len(rules) == 0 {
		return text
	}
	buckets := CategorizeAll(links)
	for _, cat := range Categories() {
		keywords := rules[cat]
		if len(keywords) == 0 || len(buckets[cat]) == 0 {
			continue
		}
		link := buckets[cat][0]
		for _, kw := range keywords {
			if kw != "" {
				text = strings.ReplaceAll(text, kw, link)
			}
		}
	}
	return text
}

// ReplaceTargets substitutes every configured source word with its target
// word and trims the result. Targets are applied in sorted order to keep
// the output deterministic.
func ReplaceTargets(text string, replacements map[string][]string) string {
	targets := make([]string, 0, len(replacements))
	for t := range replacements {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, target := range targets {
		for _, w := range replacements[target] {
			if w != "" {
				text = strings.ReplaceAll(text, w, target)
			}
		}
	}
	return strings.TrimSpace(text)
}

// YearExclusions lists historical years (1895 up to ten years before now)
// as exclusion keywords, so decade-old releases are dropped unless
// past-year forwarding is enabled.
func YearExclusions(now time.Time) []string {
	cutoff := now.Year() - 10
	var years []string
	for y := 1895; y < cutoff; y++ {
		years = append(years, strconv.Itoa(y))
	}
	return years
}
