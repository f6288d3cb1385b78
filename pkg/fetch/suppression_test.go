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

package fetch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fetch"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

var _ = Describe("SuppressionList", func() {
	var list *fetch.SuppressionList

	BeforeEach(func() {
		list = fetch.NewSuppressionList()
		list.Replace([]types.SuppressionURL{
			{URL: "https://blocked.example.org", Reason: "site owner opt-out"},
			{URL: "bare-host.example.org", Reason: "legal"},
			{URL: "https://mixed.example.org/private/schedule.html", Reason: "stale content"},
		})
	})

	It("should suppress every url on a suppressed host", func() {
		reason, ok := list.Match("https://blocked.example.org/any/path")
		Expect(ok).To(BeTrue())
		Expect(reason).To(Equal("site owner opt-out"))

		_, ok = list.MatchHost("blocked.example.org")
		Expect(ok).To(BeTrue())
	})

	It("should treat scheme-less entries as hosts", func() {
		_, ok := list.Match("http://bare-host.example.org/index.html")
		Expect(ok).To(BeTrue())
	})

	It("should suppress exact urls without spilling onto the host", func() {
		_, ok := list.Match("https://mixed.example.org/private/schedule.html")
		Expect(ok).To(BeTrue())

		// Fragments and trailing slashes do not defeat the match.
		_, ok = list.Match("https://mixed.example.org/private/schedule.html#times")
		Expect(ok).To(BeTrue())

		_, ok = list.Match("https://mixed.example.org/public.html")
		Expect(ok).To(BeFalse())
		_, ok = list.MatchHost("mixed.example.org")
		Expect(ok).To(BeFalse())
	})

	It("should replace the table atomically", func() {
		list.Replace(nil)
		Expect(list.Len()).To(BeZero())
		_, ok := list.Match("https://blocked.example.org/")
		Expect(ok).To(BeFalse())
	})
})
