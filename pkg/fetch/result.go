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

package fetch

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
)

// Result is a completed fetch. Body is capped at maxBodyBytes.
type Result struct {
	URL         string
	StatusCode  int
	Body        []byte
	ContentType string
	Duration    time.Duration
	// Via records the transport: "http" or "browser".
	Via string
}

// Usable reports whether the response carries parseable page content.
func (r *Result) Usable() bool {
	if r == nil || r.StatusCode < 200 || r.StatusCode >= 300 || len(r.Body) == 0 {
		return false
	}
	ct := strings.ToLower(r.ContentType)
	return ct == "" || strings.Contains(ct, "html") || strings.Contains(ct, "text") || strings.Contains(ct, "xml")
}

// Document parses the body as HTML.
func (r *Result) Document() (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
}

// challengeMarkers identify bot-interception pages served with a 200.
var challengeMarkers = []string{
	"cf-browser-verification",
	"attention required! | cloudflare",
	"checking your browser before accessing",
	"verify you are a human",
	"are you a robot",
	"access denied",
	"request unsuccessful. incapsula",
	"px-captcha",
}

const challengeSniffBytes = 8 << 10

func looksBlocked(body []byte) bool {
	if len(body) > challengeSniffBytes {
		body = body[:challengeSniffBytes]
	}
	lower := strings.ToLower(string(body))
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// classify maps a completed HTTP exchange onto the error taxonomy. nil means
// the response may be used.
func classify(status int, body []byte) error {
	switch {
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return dverrors.New(dverrors.KindBlocked, "origin returned %d", status)
	case status >= 500:
		return dverrors.New(dverrors.KindServerError, "origin returned %d", status)
	case status >= 400:
		return dverrors.New(dverrors.KindClientError, "origin returned %d", status)
	case looksBlocked(body):
		return dverrors.New(dverrors.KindBlocked, "origin served a challenge page")
	}
	return nil
}

// OutcomeLabel maps a fetch error onto the ledger outcome vocabulary.
func OutcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch dverrors.KindOf(err) {
	case dverrors.KindSuppressed:
		return "suppressed"
	case dverrors.KindRobotsDisallowed:
		return "robots_disallowed"
	case dverrors.KindBlocked:
		return "blocked"
	case dverrors.KindServerError:
		return "server_error"
	case dverrors.KindClientError:
		return "client_error"
	case dverrors.KindTransportError:
		return "transport_error"
	case dverrors.KindCircuitOpen:
		return "circuit_open"
	case dverrors.KindResourceExhausted:
		return "resource_exhausted"
	case dverrors.KindInvalidOutput:
		return "invalid_output"
	case dverrors.KindCancelled:
		return "cancelled"
	}
	return "error"
}
