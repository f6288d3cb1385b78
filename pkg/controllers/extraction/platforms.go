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

package extraction

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/urlx"
)

// ParishListParser turns one directory page into parish rows. Parsers fill
// only what the page shows; identity fields and diocese wiring belong to the
// controller.
type ParishListParser interface {
	Name() string
	ParseParishList(html string, baseURL *url.URL) ([]types.Parish, error)
}

// ChooseParser picks the parsing strategy from signals on the directory page.
// Platform markers (script hosts, CSS class vocabularies) are checked in
// specificity order; the generic parser handles everything unbranded.
func ChooseParser(html string) ParishListParser {
	lower := strings.ToLower(html)
	switch {
	case strings.Contains(lower, "ecatholic"):
		return ecatholicParser{}
	case strings.Contains(lower, "wp-content") && strings.Contains(lower, "et_pb_"):
		return diviParser{}
	case strings.Contains(lower, "squarespace"):
		return squarespaceParser{}
	default:
		return genericParser{}
	}
}

var (
	// addressRe matches "123 Main St, Springfield, IL 62701" with an
	// optional comma before the state.
	addressRe = regexp.MustCompile(`([0-9][^,\n]*),\s*([A-Za-z .'-]+?),?\s+([A-Z]{2})\s+(\d{5}(?:-\d{4})?)`)
	phoneRe   = regexp.MustCompile(`\(?\d{3}\)?[ .-]?\d{3}[ .-]\d{4}`)

	// parishNamePrefixes recognize parish names in unstructured link lists.
	parishNamePrefixes = []string{
		"st. ", "st ", "saint ", "sts.", "ss.", "holy ", "our lady", "sacred heart",
		"christ the", "blessed ", "immaculate", "cathedral", "basilica",
		"good shepherd", "corpus christi", "mary ", "queen of",
	}
	parishNameWords = []string{"parish", "catholic church", "mission", "oratory"}
)

func looksLikeParishName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if len(lower) < 4 {
		return false
	}
	for _, p := range parishNamePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, w := range parishNameWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// fillAddress parses the first street/city/state/zip group out of free text.
func fillAddress(p *types.Parish, text string) {
	if m := addressRe.FindStringSubmatch(text); m != nil {
		p.Street = strings.TrimSpace(m[1])
		p.City = strings.TrimSpace(m[2])
		p.State = m[3]
		p.Zip = m[4]
	}
	if phone := phoneRe.FindString(text); phone != "" {
		p.Phone = phone
	}
}

// blockWebsite picks the most parish-like link out of a directory block:
// first an off-origin link (the parish's own site), else the first internal
// detail link.
func blockWebsite(sel *goquery.Selection, baseURL *url.URL) string {
	var internal string
	var external string
	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		u, ok := urlx.Resolve(baseURL, href)
		if !ok {
			return true
		}
		if !urlx.SameOrigin(baseURL, u) {
			external = u.String()
			return false
		}
		if internal == "" && u.Path != baseURL.Path && u.Path != "/" {
			internal = u.String()
		}
		return true
	})
	if external != "" {
		return external
	}
	return internal
}

// parishFromBlock extracts one parish from a directory block shaped like
// heading + address text + links.
func parishFromBlock(sel *goquery.Selection, baseURL *url.URL) (types.Parish, bool) {
	name := strings.TrimSpace(sel.Find("h1, h2, h3, h4, h5").First().Text())
	if name == "" {
		name = strings.TrimSpace(sel.Find("a").First().Text())
	}
	if name == "" || !looksLikeParishName(name) {
		return types.Parish{}, false
	}
	p := types.Parish{Name: name, Website: blockWebsite(sel, baseURL)}
	fillAddress(&p, sel.Text())
	return p, true
}

// dedupe collapses rows that would share a parish identity key.
func dedupe(parishes []types.Parish) []types.Parish {
	return lo.UniqBy(parishes, func(p types.Parish) string {
		return urlx.NormalizeName(p.Name) + "|" + urlx.NormalizeStreet(p.Street)
	})
}

func parseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, dverrors.Wrap(dverrors.KindInvalidOutput, err)
	}
	return doc, nil
}

// ecatholicParser handles eCatholic-hosted directories, which render each
// parish as a card in the site's directory module.
type ecatholicParser struct{}

func (ecatholicParser) Name() string { return "ecatholic" }

func (ecatholicParser) ParseParishList(html string, baseURL *url.URL) ([]types.Parish, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	var out []types.Parish
	doc.Find("div.directoryItem, li.directoryItem, div.locationCard, div.parishCard").Each(func(_ int, sel *goquery.Selection) {
		if p, ok := parishFromBlock(sel, baseURL); ok {
			out = append(out, p)
		}
	})
	return dedupe(out), nil
}

// diviParser handles WordPress sites built with the Divi theme, where each
// parish is a blurb module.
type diviParser struct{}

func (diviParser) Name() string { return "wordpress_divi" }

func (diviParser) ParseParishList(html string, baseURL *url.URL) ([]types.Parish, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	var out []types.Parish
	doc.Find("div.et_pb_blurb").Each(func(_ int, sel *goquery.Selection) {
		name := strings.TrimSpace(sel.Find(".et_pb_module_header").First().Text())
		if name == "" || !looksLikeParishName(name) {
			return
		}
		p := types.Parish{Name: name, Website: blockWebsite(sel, baseURL)}
		fillAddress(&p, sel.Find(".et_pb_blurb_description").Text())
		out = append(out, p)
	})
	if len(out) == 0 {
		// Some Divi directories use plain text modules instead of blurbs.
		doc.Find("div.et_pb_text_inner").Each(func(_ int, sel *goquery.Selection) {
			if p, ok := parishFromBlock(sel, baseURL); ok {
				out = append(out, p)
			}
		})
	}
	return dedupe(out), nil
}

// squarespaceParser handles Squarespace sites, where directory entries live
// in content blocks.
type squarespaceParser struct{}

func (squarespaceParser) Name() string { return "squarespace" }

func (squarespaceParser) ParseParishList(html string, baseURL *url.URL) ([]types.Parish, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	var out []types.Parish
	doc.Find("div.sqs-block-content, div.summary-item").Each(func(_ int, sel *goquery.Selection) {
		// One Squarespace block can hold several parishes, one per heading.
		sel.Find("h2, h3, h4").Each(func(_ int, h *goquery.Selection) {
			name := strings.TrimSpace(h.Text())
			if !looksLikeParishName(name) {
				return
			}
			p := types.Parish{Name: name}
			scope := h.NextUntil("h2, h3, h4")
			fillAddress(&p, scope.Text())
			p.Website = blockWebsite(scope, baseURL)
			out = append(out, p)
		})
	})
	return dedupe(out), nil
}

// genericParser is the fallback for unbranded sites. It tries an HTML table
// first, then a flat list of parish-looking links.
type genericParser struct{}

func (genericParser) Name() string { return "generic" }

func (genericParser) ParseParishList(html string, baseURL *url.URL) ([]types.Parish, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	out := parishTable(doc, baseURL)
	if len(out) == 0 {
		out = parishLinkList(doc, baseURL)
	}
	return dedupe(out), nil
}

// parishTable reads rows of (name, address-ish, ...) cells.
func parishTable(doc *goquery.Document, baseURL *url.URL) []types.Parish {
	var out []types.Parish
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		name := strings.TrimSpace(cells.First().Text())
		if !looksLikeParishName(name) {
			return
		}
		p := types.Parish{Name: name, Website: blockWebsite(row, baseURL)}
		fillAddress(&p, row.Text())
		out = append(out, p)
	})
	return out
}

// parishLinkList collects anchors whose text reads like a parish name.
func parishLinkList(doc *goquery.Document, baseURL *url.URL) []types.Parish {
	var out []types.Parish
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		name := strings.TrimSpace(a.Text())
		if !looksLikeParishName(name) {
			return
		}
		href, _ := a.Attr("href")
		u, ok := urlx.Resolve(baseURL, href)
		if !ok {
			return
		}
		out = append(out, types.Parish{Name: name, Website: u.String()})
	})
	return out
}
