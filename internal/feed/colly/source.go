// Package collyfeed reads RSS and Atom job feeds with gocolly.
package collyfeed

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// Waiter paces requests. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config describes one feed. Limiter is optional and usually shared by
// every Source so feeds on one host are spaced out.
type Config struct {
	Name      string
	URL       string
	UserAgent string
	Timeout   time.Duration
	Limiter   Waiter
}

// Source pulls one feed URL.
type Source struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Source.
func New(cfg Config) *Source {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	return &Source{cfg: cfg, baseCollector: c}
}

// Name returns the feed label.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Fetch downloads the feed and returns its items.
func (s *Source) Fetch(ctx context.Context) ([]posting.RawPosting, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("feed %s canceled: %w", s.cfg.Name, err)
	}
	if s.cfg.Limiter != nil {
		if err := s.cfg.Limiter.Wait(ctx, s.cfg.URL); err != nil {
			return nil, fmt.Errorf("feed %s: %w", s.cfg.Name, err)
		}
	}
	var (
		items    []posting.RawPosting
		fetchErr error
	)
	collector := s.buildCollector(&items, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(s.cfg.URL)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("feed %s canceled: %w", s.cfg.Name, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fmt.Errorf("feed %s response: %w", s.cfg.Name, fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("visit feed %s: %w", s.cfg.Name, err)
		}
		return items, nil
	}
}

func (s *Source) buildCollector(items *[]posting.RawPosting, fetchErr *error) *colly.Collector {
	collector := s.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	timeout := s.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	// RSS 2.0
	collector.OnXML("//item", func(e *colly.XMLElement) {
		*items = append(*items, posting.RawPosting{
			Title:       text(e.ChildText("title")),
			Link:        text(e.ChildText("link")),
			PubDate:     text(e.ChildText("pubDate")),
			Description: text(e.ChildText("description")),
			Company:     firstNonEmpty(e.ChildText("company"), e.ChildText("author")),
			Location:    text(e.ChildText("location")),
		})
	})
	// Atom
	collector.OnXML("//entry", func(e *colly.XMLElement) {
		link := e.ChildAttr("link", "href")
		if link == "" {
			link = e.ChildText("link")
		}
		*items = append(*items, posting.RawPosting{
			Title:       text(e.ChildText("title")),
			Link:        text(link),
			PubDate:     firstNonEmpty(e.ChildText("published"), e.ChildText("updated")),
			Description: firstNonEmpty(e.ChildText("content"), e.ChildText("summary")),
			Company:     firstNonEmpty(e.ChildText("author/name"), e.ChildText("author")),
			Location:    text(e.ChildText("location")),
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
	return collector
}

func text(s string) string {
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = text(v); v != "" {
			return v
		}
	}
	return ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
