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
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/tmc/langchaingo/llms"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
)

// maxFinderLinks bounds the candidate list shown to the model; more links
// dilute the prompt without improving the pick.
const maxFinderLinks = 40

// DirectoryFinder asks the model which link on a diocese site is its parish
// directory. It backs the discovery role's AI-assist step once the heuristic
// probes come up empty.
type DirectoryFinder struct {
	llm      llms.Model
	breakers *breaker.Registry
	log      logr.Logger
}

func NewDirectoryFinder(llm llms.Model, breakers *breaker.Registry, log logr.Logger) *DirectoryFinder {
	return &DirectoryFinder{llm: llm, breakers: breakers, log: log}
}

// FindDirectory returns the most likely parish directory URL among links, or
// "" when the model rules all of them out. The call runs under the
// ai_content_analysis breaker with the standard attempt timeout.
func (f *DirectoryFinder) FindDirectory(ctx context.Context, dioceseName string, links []string) (string, error) {
	if len(links) == 0 {
		return "", nil
	}
	if len(links) > maxFinderLinks {
		links = links[:maxFinderLinks]
	}
	prompt := buildDirectoryPrompt(dioceseName, links)

	started := time.Now()
	raw, err := breaker.Do(ctx, f.breakers, breaker.AIContentAnalysis, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		out, callErr := llms.GenerateFromSinglePrompt(callCtx, f.llm, prompt,
			llms.WithTemperature(0.0), llms.WithMaxTokens(16))
		return out, classifyModelError(callErr)
	})
	callDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return "", err
	}
	return pickLink(raw, links)
}

func buildDirectoryPrompt(dioceseName string, links []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "These links come from the website of %s, a Catholic diocese.\n", dioceseName)
	b.WriteString("Which one leads to the diocese's directory of parishes, the page listing its individual parishes?\n\n")
	for i, link := range links {
		fmt.Fprintf(&b, "%d. %s\n", i+1, link)
	}
	b.WriteString("\nAnswer with the number only, or NONE if no link is a parish directory.")
	return b.String()
}

// pickLink decodes the model's answer back into a link. NONE is not an
// error; an answer outside the list is.
func pickLink(raw string, links []string) (string, error) {
	answer := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), ".`\"'"))
	if strings.EqualFold(answer, "none") {
		return "", nil
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(links) {
		return "", dverrors.New(dverrors.KindInvalidOutput, "directory pick %q is not a listed option", answer)
	}
	return links[n-1], nil
}
