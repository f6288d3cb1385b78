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
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
	"github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const (
	// RobotsTTL bounds how long a parsed robots.txt is reused.
	RobotsTTL = 24 * time.Hour

	robotsFetchTimeout = 10 * time.Second
	robotsMaxBytes     = 512 << 10
)

// Robots fetches, caches and evaluates robots.txt per origin. Fetch failures
// other than HTTP statuses fail open so an unreachable robots.txt never
// poisons an otherwise reachable origin; HTTP statuses follow
// robotstxt.FromStatusAndBytes semantics (4xx allows, 5xx disallows).
type Robots struct {
	ua     string
	client *http.Client
	log    logr.Logger

	cache *cache.Cache
	group singleflight.Group
}

func NewRobots(client *http.Client, ua string, log logr.Logger) *Robots {
	return &Robots{
		ua:     ua,
		client: client,
		log:    log,
		cache:  cache.New(RobotsTTL, time.Hour),
	}
}

// Allowed reports whether the URL may be fetched for our agent, along with
// any Crawl-delay the origin declared.
func (r *Robots) Allowed(ctx context.Context, u *url.URL) (bool, time.Duration, error) {
	data, err := r.data(ctx, u)
	if err != nil {
		return false, 0, err
	}
	group := data.FindGroup(r.ua)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path), group.CrawlDelay, nil
}

// Sitemaps returns the Sitemap directives advertised by the origin's
// robots.txt, if any.
func (r *Robots) Sitemaps(ctx context.Context, origin string) ([]string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parsing origin %q, %w", origin, err)
	}
	data, err := r.data(ctx, u)
	if err != nil {
		return nil, err
	}
	return data.Sitemaps, nil
}

func (r *Robots) data(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	origin := u.Scheme + "://" + u.Host
	if cached, ok := r.cache.Get(origin); ok {
		return cached.(*robotstxt.RobotsData), nil
	}
	got, err, _ := r.group.Do(origin, func() (interface{}, error) {
		if cached, ok := r.cache.Get(origin); ok {
			return cached.(*robotstxt.RobotsData), nil
		}
		data := r.fetch(ctx, origin)
		r.cache.SetDefault(origin, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return got.(*robotstxt.RobotsData), nil
}

func (r *Robots) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	reqCtx, cancel := context.WithTimeout(ctx, robotsFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return allowAllRobots()
	}
	req.Header.Set("User-Agent", r.ua)
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.V(1).Info("robots.txt unreachable, failing open", "origin", origin, "error", err.Error())
		return allowAllRobots()
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))
	if err != nil {
		return allowAllRobots()
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		r.log.V(1).Info("robots.txt unparseable, failing open", "origin", origin, "error", err.Error())
		return allowAllRobots()
	}
	return data
}

func allowAllRobots() *robotstxt.RobotsData {
	data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	return data
}
