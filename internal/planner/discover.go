package planner

import (
	"encoding/xml"
	"net/url"
	"strings"
)

// sitemapDoc covers both <urlset> and <sitemapindex>; either way the payload
// is a list of <loc> values.
type sitemapDoc struct {
	XMLName xml.Name     `xml:""`
	URLs    []sitemapLoc `xml:"url"`
	Maps    []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// DiscoverFromSitemap extracts <loc> entries from a sitemap body and enqueues
// them under the originating host's tier. Returns how many URLs were admitted.
func (p *Planner) DiscoverFromSitemap(originURL, body string) int {
	var doc sitemapDoc
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return 0
	}
	origin, err := url.Parse(originURL)
	if err != nil {
		return 0
	}
	tier := p.classify(normalizeHost(origin.Host))

	discovered := 0
	admit := func(loc string) {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			return
		}
		if p.Enqueue(loc, EnqueueOptions{Tier: tier, Role: "sitemap"}) {
			discovered++
		}
	}
	for _, u := range doc.URLs {
		admit(u.Loc)
	}
	for _, m := range doc.Maps {
		admit(m.Loc)
	}
	return discovered
}

// DiscoverFromRobots extracts Sitemap: directives from a robots.txt body and
// enqueues them. Returns the number of sitemap URLs admitted.
func (p *Planner) DiscoverFromRobots(originURL, body string) int {
	origin, err := url.Parse(originURL)
	if err != nil {
		return 0
	}
	tier := p.classify(normalizeHost(origin.Host))

	count := 0
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 8 || !strings.EqualFold(line[:8], "sitemap:") {
			continue
		}
		loc := strings.TrimSpace(line[8:])
		if p.Enqueue(loc, EnqueueOptions{Tier: tier, Role: "robots_sitemap"}) {
			count++
		}
	}
	return count
}
