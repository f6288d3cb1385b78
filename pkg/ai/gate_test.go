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

package ai_test

import (
	"context"
	"encoding/json"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/ai"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/extract"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

var _ = Describe("ParseResult", func() {
	It("should decode a bare JSON object", func() {
		res, err := ai.ParseResult(`{"has_weekly_schedule": true, "days_offered": ["Saturday"], "times": ["3:00 PM - 4:00 PM"], "frequency": "weekly", "appointment_required": false, "schedule_details": "Saturdays 3-4 PM", "confidence": 85}`)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.HasWeeklySchedule).To(BeTrue())
		Expect(res.DaysOffered).To(ConsistOf("Saturday"))
		Expect(res.Confidence).To(Equal(85))
		Expect(res.Frequency).To(Equal(ai.FrequencyWeekly))
	})
	It("should decode JSON buried in markdown fences and prose", func() {
		res, err := ai.ParseResult("Here is the schedule:\n```json\n{\"has_weekly_schedule\": true, \"times\": [\" 9:00 AM \"], \"confidence\": 40}\n```\nLet me know if you need more.")
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Times).To(ConsistOf("9:00 AM"))
		Expect(res.Confidence).To(Equal(40))
	})
	It("should classify responses without JSON as invalid output", func() {
		_, err := ai.ParseResult("I could not find a schedule on this page.")
		Expect(dverrors.Is(err, dverrors.KindInvalidOutput)).To(BeTrue())
	})
	It("should classify unparseable JSON as invalid output", func() {
		_, err := ai.ParseResult(`{"confidence": "very high"}`)
		Expect(dverrors.Is(err, dverrors.KindInvalidOutput)).To(BeTrue())
	})
	It("should reject confidence outside the scale", func() {
		_, err := ai.ParseResult(`{"has_weekly_schedule": true, "confidence": 140}`)
		Expect(dverrors.Is(err, dverrors.KindInvalidOutput)).To(BeTrue())
	})
})

var _ = Describe("Threshold", func() {
	var gate *ai.Gate

	BeforeEach(func() {
		gate = ai.NewGate(&fakeAnalyzer{}, extract.NewKeywordSet(), logr.Discard())
	})

	DescribeTable("adaptive adjustments",
		func(url string, keywordCount, want int) {
			Expect(gate.Threshold(url, keywordCount)).To(Equal(want))
		},
		Entry("no signals stays at base", "https://p.example/about-us", 0, 15),
		Entry("cathedral host drops 10", "https://cathedral.example/visit", 0, 5),
		Entry("dedicated schedule path drops 7", "https://p.example/mass-times", 0, 8),
		Entry("keyword rich page drops 5", "https://p.example/about-us", 3, 10),
		Entry("promotional page rises 10", "https://p.example/events", 0, 25),
		Entry("promotional token with schedule token stays down", "https://p.example/events/mass-times", 0, 8),
		Entry("all reductions clamp at the floor", "https://cathedral.example/mass-times", 5, 3),
	)

	It("should never exceed the ceiling", func() {
		Expect(gate.Threshold("https://p.example/events", 0)).To(BeNumerically("<=", ai.MaxThreshold))
	})
})

var _ = Describe("Gate", func() {
	var ctx context.Context
	var keywords *extract.KeywordSet
	var analyzer *fakeAnalyzer
	var gate *ai.Gate
	parish := types.Parish{ID: 11, DioceseID: 2, Name: "St. Anne"}

	acceptable := func(confidence int) *ai.Result {
		return &ai.Result{
			HasWeeklySchedule: true,
			DaysOffered:       []string{"Saturday"},
			Times:             []string{"3:00 PM - 4:00 PM"},
			Frequency:         ai.FrequencyWeekly,
			ScheduleDetails:   "Confessions Saturdays 3:00-4:00 PM",
			Confidence:        confidence,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		keywords = extract.NewKeywordSet()
		analyzer = &fakeAnalyzer{}
		gate = ai.NewGate(analyzer, keywords, logr.Discard())
	})

	It("should reject at threshold minus one and accept at the threshold", func() {
		url := "https://p.example/about-us"
		threshold := gate.Threshold(url, 0)

		analyzer.result = acceptable(threshold - 1)
		eval, err := gate.Evaluate(ctx, url, "plain page", parish, types.FactReconciliation)
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Accepted).To(BeFalse())

		analyzer.result = acceptable(threshold)
		eval, err = gate.Evaluate(ctx, url, "plain page", parish, types.FactReconciliation)
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Accepted).To(BeTrue())
	})

	It("should reject high confidence without a weekly schedule", func() {
		res := acceptable(90)
		res.HasWeeklySchedule = false
		analyzer.result = res
		eval, err := gate.Evaluate(ctx, "https://p.example/x", "page", parish, types.FactMass)
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Accepted).To(BeFalse())
	})

	It("should reject results naming neither days nor times", func() {
		res := acceptable(90)
		res.DaysOffered = nil
		res.Times = nil
		analyzer.result = res
		eval, err := gate.Evaluate(ctx, "https://p.example/x", "page", parish, types.FactMass)
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Accepted).To(BeFalse())
	})

	It("should count page keywords into the evaluation", func() {
		analyzer.result = acceptable(80)
		eval, err := gate.Evaluate(ctx, "https://p.example/x",
			"Mass schedule and confession times, adoration hours.", parish, types.FactMass)
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.KeywordCount).To(BeNumerically(">=", 3))
		Expect(eval.Threshold).To(Equal(10))
	})

	It("should treat invalid analyzer output as no result", func() {
		analyzer.err = dverrors.New(dverrors.KindInvalidOutput, "still not json")
		eval, err := gate.Evaluate(ctx, "https://p.example/x", "page", parish, types.FactAdoration)
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Result).To(BeNil())
		Expect(eval.Accepted).To(BeFalse())
	})

	It("should propagate breaker and quota failures", func() {
		analyzer.err = dverrors.New(dverrors.KindCircuitOpen, "circuit \"ai_content_analysis\" is open")
		_, err := gate.Evaluate(ctx, "https://p.example/x", "page", parish, types.FactMass)
		Expect(dverrors.IsCircuitOpen(err)).To(BeTrue())
	})

	Describe("Row", func() {
		It("should materialize an accepted result with the canonical payload", func() {
			analyzer.result = acceptable(72)
			eval, err := gate.Evaluate(ctx, "https://p.example/confession", "page", parish, types.FactReconciliation)
			Expect(err).ToNot(HaveOccurred())
			Expect(eval.Accepted).To(BeTrue())

			row := eval.Row(parish.ID, types.FactReconciliation, "https://p.example/confession")
			Expect(row).ToNot(BeNil())
			Expect(row.ExtractionMethod).To(Equal(types.MethodAIGemini))
			Expect(row.FactValue).To(Equal("Confessions Saturdays 3:00-4:00 PM"))
			Expect(*row.ConfidenceScore).To(Equal(72))

			var back ai.Result
			Expect(json.Unmarshal(row.AIStructuredData, &back)).To(Succeed())
			Expect(back).To(Equal(*eval.Result))
		})

		It("should return nothing for a rejected evaluation", func() {
			analyzer.result = acceptable(1)
			eval, err := gate.Evaluate(ctx, "https://p.example/x", "page", parish, types.FactMass)
			Expect(err).ToNot(HaveOccurred())
			Expect(eval.Accepted).To(BeFalse())
			Expect(eval.Row(parish.ID, types.FactMass, "https://p.example/x")).To(BeNil())
		})

		It("should fall back to days and times when details are empty", func() {
			res := acceptable(80)
			res.ScheduleDetails = ""
			analyzer.result = res
			eval, err := gate.Evaluate(ctx, "https://p.example/x", "page", parish, types.FactMass)
			Expect(err).ToNot(HaveOccurred())
			row := eval.Row(parish.ID, types.FactMass, "https://p.example/x")
			Expect(row.FactValue).To(Equal("Saturday at 3:00 PM - 4:00 PM"))
		})
	})
})
