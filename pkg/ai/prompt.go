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

package ai

import (
	"fmt"
	"strings"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// maxPromptContent bounds how much page text rides in one prompt.
const maxPromptContent = 10000

var factTypeSubjects = map[types.FactType]string{
	types.FactReconciliation: "reconciliation (confession) schedule",
	types.FactAdoration:      "eucharistic adoration schedule",
	types.FactMass:           "mass schedule",
}

const resultShape = `{
  "has_weekly_schedule": boolean,
  "days_offered": [list of weekday names],
  "times": [list of time ranges, e.g. "9:00 AM - 10:00 AM"],
  "frequency": one of "weekly", "biweekly", "monthly", "irregular",
  "appointment_required": boolean,
  "schedule_details": "one concise sentence quoting the schedule",
  "confidence": integer 0-100
}`

// BuildPrompt renders the extraction prompt for one page and fact type.
func BuildPrompt(cleaned string, parish types.Parish, factType types.FactType) string {
	subject := factTypeSubjects[factType]
	if subject == "" {
		subject = "service schedule"
	}
	if len(cleaned) > maxPromptContent {
		cleaned = cleaned[:maxPromptContent]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You extract the %s from a Catholic parish web page.\n", subject)
	fmt.Fprintf(&b, "Parish: %s\n\n", parish.Name)
	b.WriteString("Respond with exactly one JSON object of this shape and nothing else:\n")
	b.WriteString(resultShape)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- has_weekly_schedule is true only when the page states a recurring schedule.\n")
	b.WriteString("- Leave days_offered and times empty rather than guessing.\n")
	b.WriteString("- confidence reflects how explicitly the page states the schedule.\n")
	fmt.Fprintf(&b, "\nPage text:\n%s\n", cleaned)
	return b.String()
}

// BuildRepairPrompt asks the model to reshape a malformed response. Only the
// malformed text rides along; the page is not resent.
func BuildRepairPrompt(malformed string) string {
	if len(malformed) > maxPromptContent {
		malformed = malformed[:maxPromptContent]
	}
	var b strings.Builder
	b.WriteString("Your previous response could not be parsed. Reformat it as exactly one JSON object of this shape and nothing else, with no markdown fences:\n")
	b.WriteString(resultShape)
	fmt.Fprintf(&b, "\n\nPrevious response:\n%s\n", malformed)
	return b.String()
}
