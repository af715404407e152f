// Package crawler walks a site breadth-first from its root URL, bounded by a
// page cap and a wall-clock budget, and returns one HTML snapshot per
// distinct page.
package crawler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/inclusa/wcag-audit/internal/audit"
)

const maxRedirects = 5

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	MaxPages       int
	RequestTimeout time.Duration
	Budget         time.Duration
	RespectRobots  bool
}

// Renderer renders a page in a real browser. It is consulted only when the
// plain fetch looks like an empty client-side shell.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// Crawler performs the bounded same-origin crawl.
type Crawler struct {
	cfg      Config
	logger   *zap.Logger
	renderer Renderer
}

// New builds a Crawler. renderer may be nil to disable headless promotion.
func New(cfg Config, logger *zap.Logger, renderer Renderer) *Crawler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Crawler{cfg: cfg, logger: logger, renderer: renderer}
}

// page is the raw outcome of fetching one frontier entry.
type page struct {
	finalURL   string
	statusCode int
	body       []byte
	duration   time.Duration
	links      []string
	err        error
}

// Crawl fetches up to MaxPages same-origin pages starting at rootURL. The
// root page failing is fatal; later page failures are recorded and the crawl
// continues. The returned pages start with the root (post-redirect) and
// contain no duplicate canonical URLs.
func (c *Crawler) Crawl(ctx context.Context, rootURL string) (audit.CrawlResult, error) {
	root, err := Canonicalize(rootURL)
	if err != nil {
		return audit.CrawlResult{}, audit.Wrap(audit.CodeCrawlFatal, "invalid root url", err)
	}

	if c.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Budget)
		defer cancel()
	}

	result := audit.CrawlResult{RootURL: root}
	seen := map[string]bool{root: true}
	frontier := []string{root}

	for len(frontier) > 0 && len(result.Pages) < c.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			// Budget exhausted mid-crawl; whatever was fetched stands.
			if len(result.Pages) > 0 {
				break
			}
			return audit.CrawlResult{}, audit.Wrap(audit.CodeCrawlFatal, "crawl budget exhausted before root fetch", err)
		}

		target := frontier[0]
		frontier = frontier[1:]

		isRoot := len(result.Pages) == 0 && result.PagesFailed == 0
		p := c.fetchPage(ctx, target)
		if p.err != nil {
			if isRoot {
				return audit.CrawlResult{}, audit.Wrap(audit.CodeCrawlFatal, fmt.Sprintf("root page %s unreachable", target), p.err)
			}
			c.logger.Warn("page fetch failed",
				zap.String("url", target),
				zap.Error(p.err),
			)
			result.PagesFailed++
			result.Pages = append(result.Pages, audit.PageSnapshot{
				URL:       target,
				FetchedAt: time.Now().UTC(),
				ErrorText: p.err.Error(),
			})
			continue
		}

		final, err := Canonicalize(p.finalURL)
		if err != nil {
			final = target
		}
		if isRoot {
			// Redirects may land the root on a different canonical URL.
			result.RootURL = final
			seen[final] = true
		} else if final != target && seen[final] {
			continue
		}
		seen[final] = true

		html := string(p.body)
		if c.renderer != nil && looksLikeClientShell(html) {
			if rendered, rerr := c.renderer.Render(ctx, final); rerr == nil && rendered != "" {
				html = rendered
			} else if rerr != nil {
				c.logger.Warn("headless render failed, keeping plain fetch",
					zap.String("url", final),
					zap.Error(rerr),
				)
			}
		}

		result.Pages = append(result.Pages, audit.PageSnapshot{
			URL:        final,
			StatusCode: p.statusCode,
			FetchedAt:  time.Now().UTC(),
			Duration:   p.duration,
			HTML:       html,
		})

		for _, link := range p.links {
			canon, err := Canonicalize(link)
			if err != nil || seen[canon] {
				continue
			}
			if !SameOrigin(canon, result.RootURL) {
				continue
			}
			if skipNonPage(canon) {
				continue
			}
			seen[canon] = true
			frontier = append(frontier, canon)
		}
	}

	return result, nil
}

// fetchPage runs a single synchronous visit on a fresh collector clone.
func (c *Crawler) fetchPage(ctx context.Context, pageURL string) page {
	start := time.Now()
	var p page

	collector := colly.NewCollector()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots
	collector.SetRequestTimeout(c.cfg.RequestTimeout)
	collector.WithTransport(newHTTPTransport())
	collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	collector.OnResponse(func(r *colly.Response) {
		p.finalURL = r.Request.URL.String()
		p.statusCode = r.StatusCode
		p.body = append([]byte(nil), r.Body...)
		p.duration = time.Since(start)
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if link := e.Request.AbsoluteURL(e.Attr("href")); link != "" {
			p.links = append(p.links, link)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		p.err = err
		if r != nil {
			p.statusCode = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		p.err = ctx.Err()
	case err := <-done:
		if err != nil && p.err == nil {
			p.err = err
		}
	}
	if p.err == nil && p.statusCode >= 400 {
		p.err = fmt.Errorf("http status %d", p.statusCode)
	}
	return p
}

// skipNonPage drops frontier candidates that cannot be HTML documents.
func skipNonPage(canon string) bool {
	lower := strings.ToLower(canon)
	for _, ext := range []string{
		".pdf", ".zip", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp",
		".mp3", ".mp4", ".avi", ".mov", ".css", ".js", ".ico", ".xml",
	} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return strings.Contains(lower, "mailto:") || strings.Contains(lower, "tel:")
}

// looksLikeClientShell detects pages whose server response is an empty
// JavaScript application shell.
func looksLikeClientShell(html string) bool {
	if len(html) == 0 {
		return true
	}
	if len(html) > 4096 {
		return false
	}
	lower := strings.ToLower(html)
	for _, marker := range []string{
		`<div id="root"></div>`,
		`<div id="app"></div>`,
		`<div id="__next"></div>`,
		"you need to enable javascript",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
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
