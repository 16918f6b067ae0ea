// Package opentopia scrapes webcam metadata from opentopia.com.
package opentopia

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/fetcher"
	"github.com/JakeFAU/webcam-harvester/internal/metadata"
	"github.com/JakeFAU/webcam-harvester/internal/metrics"
	"github.com/JakeFAU/webcam-harvester/internal/scraper"
)

const (
	// Source is the canonical name of this scraper.
	Source = "opentopia"
	// DefaultBaseURL is the site root scraped by default.
	DefaultBaseURL = "http://www.opentopia.com"

	defaultTimeout = 10 * time.Second
	troubleMarker  = "trouble contacting"
)

// Register adds the opentopia scraper to registry.
func Register(registry *scraper.Registry) error {
	return registry.Register(Source, func(opts scraper.Options) (scraper.Scraper, error) {
		return New(opts)
	})
}

// Scraper implements scraper.Scraper for opentopia.
type Scraper struct {
	fetcher fetcher.Fetcher
	limiter scraper.Limiter
	baseURL *url.URL
	timeout time.Duration
	logger  *zap.Logger
}

// New constructs a Scraper.
func New(opts scraper.Options) (*Scraper, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		fetcher: opts.Fetcher,
		limiter: opts.Limiter,
		baseURL: base,
		timeout: timeout,
		logger:  logger.Named(Source),
	}, nil
}

// Source returns "opentopia".
func (s *Scraper) Source() string {
	return Source
}

// Scrape fetches the webcam's livestill page and extracts its metadata.
// Identifiers must be non-negative integers.
func (s *Scraper) Scrape(ctx context.Context, identifier string) (metadata.Metadata, error) {
	if _, err := strconv.ParseUint(identifier, 10, 64); err != nil {
		return metadata.Metadata{}, fmt.Errorf("%w: %q is not numeric", scraper.ErrInvalidIdentifier, identifier)
	}
	pageURL := s.pageURL(identifier)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, pageURL); err != nil {
			return metadata.Metadata{}, fmt.Errorf("wait to scrape %s: %w", identifier, err)
		}
	}

	resp, err := s.fetcher.Fetch(ctx, fetcher.Request{URL: pageURL, Timeout: s.timeout})
	if err != nil {
		// Caller cancellation is not a property of the webcam.
		if ctx.Err() != nil {
			return metadata.Metadata{}, fmt.Errorf("scrape %s: %w", identifier, ctx.Err())
		}
		s.logger.Error("failed to scrape metadata",
			zap.String("identifier", identifier),
			zap.String("url", pageURL),
			zap.Error(err))
		metrics.ObserveScrape(Source, metrics.ScrapeError)
		return metadata.NotLive(Source, identifier), nil
	}

	m := extractMetadata(resp.Body, resp.URL)
	m.Source = Source
	m.Identifier = identifier
	if m.IsLive {
		metrics.ObserveScrape(Source, metrics.ScrapeLive)
	} else {
		metrics.ObserveScrape(Source, metrics.ScrapeDown)
	}
	return m, nil
}

func (s *Scraper) pageURL(identifier string) string {
	u := s.baseURL.JoinPath("webcam", identifier)
	u.RawQuery = url.Values{"viewmode": {"livestill"}}.Encode()
	return u.String()
}

// extractMetadata parses an opentopia webcam page. pageURL is used to
// resolve a relative livestill src.
func extractMetadata(page []byte, pageURL string) metadata.Metadata {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return metadata.Metadata{}
	}

	var m metadata.Metadata
	applyCamInfo(&m, parseCamInfo(doc.Find("#caminfo").First()))

	livestill := strings.TrimSpace(doc.Find("#stillimage").First().AttrOr("src", ""))
	if livestill != "" {
		livestill = resolve(pageURL, livestill)
	}
	m.IsLive = livestill != "" && !bytes.Contains(page, []byte(troubleMarker))
	if m.IsLive {
		m.LivestillURL = livestill
	}
	return m
}

type camInfoPair struct {
	key   string
	value string
}

// parseCamInfo reads rows of "left" label / "right" value elements. Values
// in a "geo" cell are reported per coordinate class.
func parseCamInfo(caminfo *goquery.Selection) []camInfoPair {
	var pairs []camInfoPair
	caminfo.Children().Each(func(_ int, row *goquery.Selection) {
		var key, value string
		row.Children().Each(func(_ int, label *goquery.Selection) {
			switch {
			case label.HasClass("left"):
				key = strings.ToLower(strings.Trim(strings.TrimSpace(label.Text()), ": "))
			case label.HasClass("right") && label.HasClass("geo"):
				label.Children().Each(func(_ int, coord *goquery.Selection) {
					class, _ := coord.Attr("class")
					if v := strings.TrimSpace(coord.Text()); class != "" && v != "" {
						pairs = append(pairs, camInfoPair{key: strings.TrimSpace(class), value: v})
					}
				})
			case label.HasClass("right"):
				value = strings.ToLower(strings.TrimSpace(label.Text()))
			}
		})
		if key != "" && value != "" {
			pairs = append(pairs, camInfoPair{key: key, value: value})
		}
	})
	return pairs
}

func applyCamInfo(m *metadata.Metadata, pairs []camInfoPair) {
	var lat, lon string
	for _, p := range pairs {
		v := p.value
		switch p.key {
		case "facility":
			m.Facility = metadata.StringPtr(v)
		case "city":
			m.City = metadata.StringPtr(v)
		case "country":
			m.Country = metadata.StringPtr(v)
		case "region", "state", "state/region":
			m.Region = metadata.StringPtr(v)
		case "brand":
			m.Brand = metadata.StringPtr(v)
		case "coordinates":
			m.Coordinates = metadata.StringPtr(v)
		case "latitude":
			lat = v
		case "longitude":
			lon = v
		}
	}
	if lat != "" && lon != "" {
		m.Coordinates = metadata.StringPtr(lat + "," + lon)
	}
}

func resolve(pageURL, src string) string {
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" {
		return src
	}
	return base.ResolveReference(ref).String()
}
