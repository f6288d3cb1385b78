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
	"encoding/json"
	"strings"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
)

// Frequency describes how often a schedule repeats.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyIrregular Frequency = "irregular"
)

// Result is the structured schedule record the analyzer extracts from one
// page. Confidence runs 0 to 100.
type Result struct {
	HasWeeklySchedule   bool      `json:"has_weekly_schedule"`
	DaysOffered         []string  `json:"days_offered"`
	Times               []string  `json:"times"`
	Frequency           Frequency `json:"frequency"`
	AppointmentRequired bool      `json:"appointment_required"`
	ScheduleDetails     string    `json:"schedule_details"`
	Confidence          int       `json:"confidence"`
}

// HasDaysOrTimes reports whether the result names at least one day or time.
func (r *Result) HasDaysOrTimes() bool {
	return len(r.DaysOffered) > 0 || len(r.Times) > 0
}

// Canonical serializes the result in its stable field order for the
// ai_structured_data column.
func (r *Result) Canonical() json.RawMessage {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return raw
}

// ParseResult decodes a model response into a Result. Models wrap JSON in
// markdown fences and prose at will, so decoding starts at the first brace
// and ends at the last. Anything undecodable or out of range comes back as
// KindInvalidOutput.
func ParseResult(raw string) (*Result, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, dverrors.New(dverrors.KindInvalidOutput, "response carries no JSON object: %.120q", raw)
	}
	var res Result
	if err := json.Unmarshal([]byte(raw[start:end+1]), &res); err != nil {
		return nil, dverrors.New(dverrors.KindInvalidOutput, "decoding analyzer response, %v", err)
	}
	if res.Confidence < 0 || res.Confidence > 100 {
		return nil, dverrors.New(dverrors.KindInvalidOutput, "confidence %d outside 0..100", res.Confidence)
	}
	res.DaysOffered = cleanList(res.DaysOffered)
	res.Times = cleanList(res.Times)
	res.ScheduleDetails = strings.TrimSpace(res.ScheduleDetails)
	return &res, nil
}

func cleanList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
