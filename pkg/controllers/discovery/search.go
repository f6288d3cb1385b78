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

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/urlx"
)

const (
	searchEndpoint = "https://www.googleapis.com/customsearch/v1"
	searchTimeout  = 10 * time.Second
	searchResults  = 5
)

// SearchClient finds parish directories through the Google Custom Search
// JSON API. It is the last detection method tried because each query spends
// paid quota.
type SearchClient struct {
	client   *http.Client
	endpoint string
	apiKey   string
	engineID string
}

// SearchOption tunes a SearchClient at construction.
type SearchOption func(*SearchClient)

// WithSearchEndpoint points the client at a different API base, for tests.
func WithSearchEndpoint(endpoint string) SearchOption {
	return func(s *SearchClient) { s.endpoint = strings.TrimRight(endpoint, "/") }
}

func NewSearchClient(apiKey, engineID string, opts ...SearchOption) *SearchClient {
	s := &SearchClient{
		client:   &http.Client{Timeout: searchTimeout},
		endpoint: searchEndpoint,
		apiKey:   apiKey,
		engineID: engineID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindDirectory queries for "<diocese name> parish directory" and returns the
// most plausible hit, preferring results on the diocese's own host. An empty
// string means the search answered but nothing plausible came back.
func (s *SearchClient) FindDirectory(ctx context.Context, diocese types.Diocese) (string, error) {
	q := url.Values{}
	q.Set("key", s.apiKey)
	q.Set("cx", s.engineID)
	q.Set("q", diocese.Name+" parish directory")
	q.Set("num", strconv.Itoa(searchResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", dverrors.Wrap(dverrors.KindClientError, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", dverrors.Wrap(dverrors.KindCancelled, ctx.Err())
		}
		return "", dverrors.Wrap(dverrors.KindTransportError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", dverrors.New(dverrors.KindResourceExhausted, "search quota exhausted")
	case resp.StatusCode >= 500:
		return "", dverrors.New(dverrors.KindServerError, "search api returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", dverrors.New(dverrors.KindClientError, "search api returned %d", resp.StatusCode)
	}

	var out struct {
		Items []struct {
			Link  string `json:"link"`
			Title string `json:"title"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", dverrors.Wrap(dverrors.KindInvalidOutput, fmt.Errorf("decoding search response, %w", err))
	}
	if len(out.Items) == 0 {
		return "", nil
	}

	dioceseHost := urlx.Host(diocese.Website)
	for _, item := range out.Items {
		if dioceseHost != "" && urlx.Host(item.Link) == dioceseHost {
			return item.Link, nil
		}
	}
	return out.Items[0].Link, nil
}
