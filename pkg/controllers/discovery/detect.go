/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package discovery

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/urlx"
)

// DirectoryPaths are probed in order on every diocese site before any other
// detection method runs.
var DirectoryPaths = []string{
	"/parishes",
	"/find-a-parish",
	"/directory",
	"/churches",
	"/parish-finder",
	"/our-parishes",
}

// navTokens mark home-page links worth probing as directory candidates.
var navTokens = []string{"parish", "church", "directory", "find a parish", "our parishes"}

// parishNameTokens are the name prefixes individual parishes almost always
// carry; a page dense with such links is a directory.
var parishNameTokens = []string{
	"st. ", "st ", "saint ", "sts.", "ss.", "holy ", "our lady", "sacred heart",
	"christ the", "blessed ", "immaculate", "cathedral", "basilica",
	"good shepherd", "corpus christi",
}

// minParishSignals is how many parish-looking links a page needs before the
// heuristic declares it a directory.
const minParishSignals = 5

// dioceseTokens identify links to diocese sites on a registry page.
var dioceseTokens = []string{"diocese of", "archdiocese of", "eparchy of", "ordinariate"}

// countParishSignals counts anchors that look like links to individual
// parishes: a recognizable parish name, or a path routed under /parish.
func countParishSignals(doc *goquery.Document) int {
	count := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		href, _ := sel.Attr("href")
		if text == "" && href == "" {
			return
		}
		for _, tok := range parishNameTokens {
			if strings.HasPrefix(text, tok) {
				count++
				return
			}
		}
		if strings.Contains(strings.ToLower(href), "parish") && len(text) > 3 {
			count++
		}
	})
	return count
}

// looksLikeDirectory decides whether a fetched page is a parish directory.
func looksLikeDirectory(doc *goquery.Document) bool {
	return countParishSignals(doc) >= minParishSignals
}

// navCandidates scans a diocese home page for links whose text or path
// suggests a parish directory, resolved against the page origin.
func navCandidates(doc *goquery.Document, base *url.URL) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		u, ok := urlx.Resolve(base, href)
		if !ok || !urlx.SameOrigin(base, u) {
			return
		}
		lowerPath := strings.ToLower(u.Path)
		for _, tok := range navTokens {
			if strings.Contains(text, tok) || strings.Contains(lowerPath, strings.ReplaceAll(tok, " ", "-")) {
				out = append(out, u.String())
				return
			}
		}
	})
	return out
}

// internalLinks collects up to limit same-origin links for the AI assist.
func internalLinks(doc *goquery.Document, base *url.URL, limit int) []string {
	seen := map[string]struct{}{}
	var out []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		u, ok := urlx.Resolve(base, href)
		if !ok || !urlx.SameOrigin(base, u) {
			return true
		}
		s := u.String()
		if _, dup := seen[s]; dup {
			return true
		}
		seen[s] = struct{}{}
		out = append(out, s)
		return len(out) < limit
	})
	return out
}

// dioceseID derives the stable identifier for a seeded diocese from its
// website host, so every worker computes the same row without coordination.
// Collisions are absorbed by the immutable upsert.
func dioceseID(website string) int64 {
	host := urlx.Host(website)
	h, err := hashstructure.Hash(host, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return int64(h & 0x7FFFFFFF)
}

// registryEntries extracts diocese name/website pairs from a curated
// registry page.
func registryEntries(doc *goquery.Document) []registryEntry {
	var out []registryEntry
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		name := strings.TrimSpace(sel.Text())
		lower := strings.ToLower(name)
		matched := false
		for _, tok := range dioceseTokens {
			if strings.Contains(lower, tok) {
				matched = true
				break
			}
		}
		if !matched {
			return
		}
		href, _ := sel.Attr("href")
		u, err := url.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return
		}
		origin, err := urlx.Origin(u.String())
		if err != nil {
			return
		}
		if _, dup := seen[origin]; dup {
			return
		}
		seen[origin] = struct{}{}
		out = append(out, registryEntry{Name: name, Website: origin})
	})
	return out
}

type registryEntry struct {
	Name    string
	Website string
}
