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

package extract_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/extract"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

var _ = Describe("KeywordSet", func() {
	var keywords *extract.KeywordSet

	BeforeEach(func() {
		keywords = extract.NewKeywordSet()
	})

	It("should fall back to the built-in defaults when the table is empty", func() {
		Expect(keywords.PositiveFor(types.FactMass)).To(ContainElement("mass"))
		Expect(keywords.PositiveFor(types.FactReconciliation)).To(ContainElement("confession"))
		Expect(keywords.PositiveFor(types.FactAdoration)).To(ContainElement("adoration"))
	})

	It("should replace the table wholesale from store rows", func() {
		keywords.Replace([]types.ScheduleKeyword{
			{ScheduleType: types.FactMass, Keyword: "Divine Liturgy"},
			{ScheduleType: types.FactMass, Keyword: "closed", IsNegative: true},
		})
		Expect(keywords.PositiveFor(types.FactMass)).To(ConsistOf("divine liturgy"))
		Expect(keywords.NegativeFor(types.FactMass)).To(ConsistOf("closed"))
		Expect(keywords.PositiveFor(types.FactAdoration)).To(BeEmpty())
	})

	It("should match multi-word keywords against hyphenated path tokens", func() {
		Expect(keywords.MatchesTokens([]string{"mass-times"})).To(BeTrue())
		Expect(keywords.MatchesTokens([]string{"confession"})).To(BeTrue())
		Expect(keywords.MatchesTokens([]string{"staff", "directory"})).To(BeFalse())
	})

	It("should count distinct keyword matches in page text", func() {
		n := keywords.CountMatches("Confession is offered before every Mass. Adoration follows daily Mass.")
		Expect(n).To(BeNumerically(">=", 3))
		Expect(keywords.CountMatches("Welcome to our history page")).To(BeZero())
	})
})

var _ = Describe("Cleaner", func() {
	It("should strip scripts and chrome and keep block boundaries", func() {
		html := `<html><head><script>var x = 1;</script><style>.a{}</style></head>
			<body><nav>Home | About</nav>
			<h2>Confession Times</h2>
			<p>Saturday 3:00 PM</p>
			<footer>© Parish</footer></body></html>`
		cleaned := extract.CleanHTML(html)
		Expect(cleaned).To(ContainSubstring("Confession Times"))
		Expect(cleaned).To(ContainSubstring("Saturday 3:00 PM"))
		Expect(cleaned).ToNot(ContainSubstring("var x"))
		Expect(cleaned).ToNot(ContainSubstring("Home | About"))
		Expect(cleaned).ToNot(ContainSubstring("© Parish"))
	})

	It("should keep table cells on separate lines", func() {
		html := `<table><tr><td>Saturday</td></tr><tr><td>3:00 PM</td></tr></table>`
		cleaned := extract.CleanHTML(html)
		Expect(cleaned).To(ContainSubstring("Saturday\n"))
	})

	It("should truncate oversized pages", func() {
		big := make([]byte, 3*extract.MaxCleanedLength)
		for i := range big {
			big[i] = 'a'
		}
		Expect(len(extract.CleanText(string(big)))).To(Equal(extract.MaxCleanedLength))
	})
})

var _ = Describe("Extractor", func() {
	var extractor *extract.Extractor

	BeforeEach(func() {
		extractor = extract.NewExtractor(extract.NewKeywordSet())
	})

	It("should extract a block that pairs a keyword with a time", func() {
		cleaned := extract.CleanHTML(`
			<h2>About Us</h2><p>Founded in 1887.</p>
			<h2>Reconciliation</h2><p>Confessions Saturday 3:00-3:45 PM or by appointment.</p>`)
		ex, ok := extractor.Extract(cleaned, types.FactReconciliation)
		Expect(ok).To(BeTrue())
		Expect(ex.Method).To(Equal(types.MethodKeyword))
		Expect(ex.Value).To(ContainSubstring("Saturday 3:00-3:45 PM"))
		Expect(ex.Value).ToNot(ContainSubstring("1887"))
	})

	It("should reject blocks with a keyword but no time", func() {
		_, ok := extractor.Extract("Confession is a beautiful sacrament of healing.", types.FactReconciliation)
		Expect(ok).To(BeFalse())
	})

	It("should reject blocks carrying a negative keyword", func() {
		_, ok := extractor.Extract("Confessions Saturday 3:00 PM cancelled until further notice.", types.FactReconciliation)
		Expect(ok).To(BeFalse())
	})

	It("should accept relative-to-mass phrasing as a time pattern", func() {
		ex, ok := extractor.Extract("Confessions are heard after each Mass.", types.FactReconciliation)
		Expect(ok).To(BeTrue())
		Expect(ex.FactType).To(Equal(types.FactReconciliation))
	})

	It("should fall back to whole-page matching with the simple method", func() {
		// Keyword and time live in different blocks, so block scoping misses.
		cleaned := "Adoration chapel open to all.\n\nVisit us weekdays 9:00 AM"
		_, ok := extractor.Extract(cleaned, types.FactAdoration)
		Expect(ok).To(BeFalse())
		ex, ok := extractor.ExtractSimple(cleaned, types.FactAdoration)
		Expect(ok).To(BeTrue())
		Expect(ex.Method).To(Equal(types.MethodKeywordSimple))
	})

	It("should produce ledger rows without a confidence score", func() {
		ex, ok := extractor.Extract("Mass Sunday 10:30 AM", types.FactMass)
		Expect(ok).To(BeTrue())
		row := ex.Row(42, "https://p.example/mass-times")
		Expect(row.ParishID).To(Equal(int64(42)))
		Expect(row.ExtractionMethod).To(Equal(types.MethodKeyword))
		Expect(row.ConfidenceScore).To(BeNil())
		Expect(row.AIStructuredData).To(BeNil())
	})

	It("should extract every fact type present on one page", func() {
		cleaned := extract.CleanHTML(`
			<h2>Mass Schedule</h2><p>Sunday 8:00 AM, 10:30 AM</p>
			<h2>Confession</h2><p>Saturday 3:00 PM</p>
			<h2>Adoration</h2><p>First Friday 19:00</p>`)
		all := extractor.ExtractAll(cleaned)
		facts := make([]types.FactType, 0, len(all))
		for _, ex := range all {
			facts = append(facts, ex.FactType)
		}
		Expect(facts).To(ConsistOf(types.FactMass, types.FactReconciliation, types.FactAdoration))
	})
})
