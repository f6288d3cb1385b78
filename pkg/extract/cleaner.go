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

package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MaxCleanedLength bounds the text handed to the AI analyzer. Schedule blocks
// live in the page body, so truncating the tail loses boilerplate, not data.
const MaxCleanedLength = 12000

var (
	collapseSpace = regexp.MustCompile(`[ \t]+`)
	collapseLines = regexp.MustCompile(`\n{3,}`)
)

// strippedSelectors remove non-content markup before text extraction.
var strippedSelectors = []string{
	"script", "style", "noscript", "iframe", "svg", "form",
	"nav", "header", "footer", "aside",
}

// CleanDocument reduces a parsed page to readable text for analysis: strips
// scripts and chrome, preserves block boundaries as newlines, and collapses
// whitespace. Paragraph-level elements end with a blank line; headings end
// with a single newline so they stay attached to the section they introduce.
func CleanDocument(doc *goquery.Document) string {
	working := doc.Selection
	if body := doc.Find("body"); body.Length() > 0 {
		working = body
	}
	for _, sel := range strippedSelectors {
		working.Find(sel).Remove()
	}
	working.Find("br, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	working.Find("p, div, li, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n\n")
	})
	return CleanText(working.Text())
}

// CleanHTML parses raw HTML and cleans it. Unparseable input degrades to
// whitespace collapsing on the raw text.
func CleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return CleanText(html)
	}
	return CleanDocument(doc)
}

// CleanText collapses runs of whitespace and truncates to MaxCleanedLength.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = collapseSpace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = collapseLines.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if len(text) > MaxCleanedLength {
		text = text[:MaxCleanedLength]
	}
	return text
}
