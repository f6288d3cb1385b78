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

package frontier

import (
	"encoding/xml"
	"strings"
)

// SitemapPaths are probed in order on every parish origin. The list covers
// the default location plus the common CMS variants.
var SitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemaps.xml",
	"/sitemap/sitemap.xml",
	"/wp-sitemap.xml",
	"/site-map.xml",
	"/sitemap1.xml",
}

// maxSitemapDepth bounds how deep nested sitemap indexes are followed. The
// first document sits at depth 0.
const maxSitemapDepth = 2

// maxSitemapEntries caps how many locations one sitemap document contributes,
// guarding against auto-generated sitemaps with tens of thousands of entries.
const maxSitemapEntries = 500

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// sitemapDoc decodes both document shapes: a urlset carries url entries, a
// sitemapindex carries sitemap entries.
type sitemapDoc struct {
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

// parseSitemap decodes one sitemap document. A urlset yields page URLs; a
// sitemapindex yields child sitemap URLs. Both slices may be returned empty
// for valid but vacuous documents.
func parseSitemap(data []byte) (pages []string, children []string, err error) {
	var doc sitemapDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, err
	}
	for i, u := range doc.URLs {
		if i >= maxSitemapEntries {
			break
		}
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			pages = append(pages, loc)
		}
	}
	for i, s := range doc.Sitemaps {
		if i >= maxSitemapEntries {
			break
		}
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return pages, children, nil
}
