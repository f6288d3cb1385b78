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

// Package urlx provides URL canonicalization and the text normalization rules
// behind parish identity keys.
package urlx

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9 ]+`)
	whitespace = regexp.MustCompile(`\s+`)

	// Postal-style abbreviations applied to street addresses so that
	// "123 North Main Street" and "123 N. Main St" produce the same key.
	streetAbbreviations = map[string]string{
		"street":    "st",
		"avenue":    "ave",
		"boulevard": "blvd",
		"drive":     "dr",
		"road":      "rd",
		"lane":      "ln",
		"court":     "ct",
		"place":     "pl",
		"highway":   "hwy",
		"parkway":   "pkwy",
		"square":    "sq",
		"terrace":   "ter",
		"circle":    "cir",
		"north":     "n",
		"south":     "s",
		"east":      "e",
		"west":      "w",
		"northeast": "ne",
		"northwest": "nw",
		"southeast": "se",
		"southwest": "sw",
		"suite":     "ste",
	}
)

// Origin returns the scheme://host form of a URL, lowercased, with no path.
func Origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// Host returns the lowercased host (including any non-default port) of a URL,
// or an empty string if the URL does not parse.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// SameOrigin reports whether two URLs share scheme and host.
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// Fetchable reports whether an href is something the fetcher can retrieve.
// mailto:, tel:, javascript: and fragment-only links are not.
func Fetchable(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"mailto:", "tel:", "javascript:", "data:", "ftp:"} {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

// Resolve resolves href against base, drops the fragment, and returns the
// absolute URL. Returns false for anything non-fetchable or unparseable.
func Resolve(base *url.URL, href string) (*url.URL, bool) {
	if !Fetchable(href) {
		return nil, false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	abs.Fragment = ""
	return abs, true
}

// PathTokens splits the URL path into lowercased tokens on slashes, hyphens,
// underscores and dots. "/confession-times.html" yields
// ["confession", "times", "html"].
func PathTokens(u *url.URL) []string {
	return SplitTokens(u.Path)
}

// SplitTokens tokenizes arbitrary URL-ish text the same way PathTokens does.
func SplitTokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '/' || r == '-' || r == '_' || r == '.' || r == '?' || r == '=' || r == '&'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// NormalizeName lowercases, strips punctuation and collapses whitespace.
// "St. Mary's  Cathedral" becomes "st marys cathedral".
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, "")
	return whitespace.ReplaceAllString(s, " ")
}

// NormalizeStreet normalizes like NormalizeName and additionally maps street
// designators and compass words to their postal abbreviations.
func NormalizeStreet(s string) string {
	s = NormalizeName(s)
	if s == "" {
		return s
	}
	words := strings.Split(s, " ")
	for i, w := range words {
		if abbr, ok := streetAbbreviations[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}
