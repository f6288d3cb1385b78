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
	"errors"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/ai"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

var _ = Describe("GeminiAnalyzer", func() {
	var ctx context.Context
	var breakers *breaker.Registry
	parish := types.Parish{ID: 3, Name: "Holy Family"}
	validJSON := `{"has_weekly_schedule": true, "days_offered": ["Friday"], "times": ["7:00 PM"], "frequency": "weekly", "schedule_details": "Fridays at 7 PM", "confidence": 66}`

	BeforeEach(func() {
		ctx = context.Background()
		breakers = breaker.NewRegistry(logr.Discard())
	})

	newAnalyzer := func(model *scriptedModel) *ai.GeminiAnalyzer {
		return ai.NewAnalyzerFromModel(model, breakers, logr.Discard(), ai.WithBackoffUnit(time.Millisecond))
	}

	It("should return the decoded result on a clean exchange", func() {
		model := &scriptedModel{script: []modelTurn{{text: validJSON}}}
		res, err := newAnalyzer(model).Analyze(ctx, "page text", parish, types.FactAdoration)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Confidence).To(Equal(66))
		Expect(model.callCount()).To(Equal(1))
		Expect(model.prompts[0]).To(ContainSubstring("Holy Family"))
		Expect(model.prompts[0]).To(ContainSubstring("adoration"))
	})

	It("should repair malformed output once", func() {
		model := &scriptedModel{script: []modelTurn{
			{text: "Sure! The parish offers adoration on Fridays."},
			{text: validJSON},
		}}
		res, err := newAnalyzer(model).Analyze(ctx, "page text", parish, types.FactAdoration)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.HasWeeklySchedule).To(BeTrue())
		Expect(model.callCount()).To(Equal(2))
		Expect(model.prompts[1]).To(ContainSubstring("could not be parsed"))
	})

	It("should give up after a failed repair", func() {
		model := &scriptedModel{script: []modelTurn{
			{text: "not json"},
			{text: "still not json"},
		}}
		_, err := newAnalyzer(model).Analyze(ctx, "page text", parish, types.FactMass)
		Expect(dverrors.Is(err, dverrors.KindInvalidOutput)).To(BeTrue())
		Expect(model.callCount()).To(Equal(2))
	})

	It("should back off through quota exhaustion and then succeed", func() {
		model := &scriptedModel{script: []modelTurn{
			{err: errors.New("googleapi: Error 429: quota exceeded")},
			{err: errors.New("googleapi: Error 429: quota exceeded")},
			{text: validJSON},
		}}
		res, err := newAnalyzer(model).Analyze(ctx, "page text", parish, types.FactMass)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Confidence).To(Equal(66))
		Expect(model.callCount()).To(Equal(3))
	})

	It("should surface quota exhaustion after the attempt budget", func() {
		model := &scriptedModel{script: []modelTurn{
			{err: errors.New("rate limit exceeded")},
		}}
		_, err := newAnalyzer(model).Analyze(ctx, "page text", parish, types.FactMass)
		Expect(dverrors.Is(err, dverrors.KindResourceExhausted)).To(BeTrue())
		Expect(model.callCount()).To(Equal(4))
	})

	It("should classify other provider failures as transport errors", func() {
		model := &scriptedModel{script: []modelTurn{
			{err: errors.New("connection reset by peer")},
		}}
		_, err := newAnalyzer(model).Analyze(ctx, "page text", parish, types.FactMass)
		Expect(dverrors.Is(err, dverrors.KindTransportError)).To(BeTrue())
		Expect(model.callCount()).To(Equal(1))
	})

	It("should reject without calling the model once the breaker opens", func() {
		model := &scriptedModel{script: []modelTurn{
			{err: errors.New("rate limit exceeded")},
		}}
		analyzer := newAnalyzer(model)

		// Four quota failures, then one more call to trip the breaker past
		// its threshold of five.
		_, err := analyzer.Analyze(ctx, "page text", parish, types.FactMass)
		Expect(dverrors.Is(err, dverrors.KindResourceExhausted)).To(BeTrue())
		_, err = analyzer.Analyze(ctx, "page text", parish, types.FactMass)
		Expect(dverrors.IsCircuitOpen(err)).To(BeTrue())

		calls := model.callCount()
		_, err = analyzer.Analyze(ctx, "page text", parish, types.FactMass)
		Expect(dverrors.IsCircuitOpen(err)).To(BeTrue())
		Expect(model.callCount()).To(Equal(calls))
	})
})
