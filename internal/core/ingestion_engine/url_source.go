package ingestion_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/core/fileparser"
)

// Page is the text of a fetched web page.
type Page struct {
	URL      string
	FileName string
	Title    string
	Text     string
	HTMLSize int64
}

// URLFetcher downloads pages, optionally through a CORS proxy that wraps the
// page in a JSON envelope ({"contents": "..."}).
type URLFetcher struct {
	client  *http.Client
	proxy   string
	limiter *rate.Limiter
	maxSize int64
}

func NewURLFetcher(client *http.Client, proxy string, perSecond int, maxSize int64) *URLFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &URLFetcher{
		client:  client,
		proxy:   proxy,
		limiter: rate.NewLimiter(rate.Limit(max(1, perSecond)), 1),
		maxSize: maxSize,
	}
}

// Fetch downloads rawURL and strips it to visible text.
func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid URL %q", core.ErrInvalidInput, rawURL)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrFetchFailed, err)
	}

	target := u.String()
	if f.proxy != "" {
		target = f.proxy + url.QueryEscape(u.String())
	}

	body, err := f.get(ctx, target)
	if err != nil {
		return nil, err
	}

	html := string(body)
	if f.proxy != "" {
		var envelope struct {
			Contents string `json:"contents"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: decode proxy response: %w", core.ErrFetchFailed, err)
		}
		html = envelope.Contents
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse HTML: %w", core.ErrFetchFailed, err)
	}
	page := &Page{
		URL:      u.String(),
		FileName: pageFileName(u),
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		Text:     fileparser.HTMLText(doc.Selection),
		HTMLSize: int64(len(html)),
	}
	if page.Text == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrFetchFailed, core.ErrEmptyContent)
	}
	return page, nil
}

func (f *URLFetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrFetchFailed, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", core.ErrFetchFailed, resp.Status)
	}

	var r io.Reader = resp.Body
	if f.maxSize > 0 {
		r = io.LimitReader(resp.Body, f.maxSize+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", core.ErrFetchFailed, err)
	}
	if f.maxSize > 0 && int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("%w: page exceeds %d bytes", core.ErrFileTooLarge, f.maxSize)
	}
	return body, nil
}

// pageFileName is the last path segment of u, or "webpage" when there is none.
func pageFileName(u *url.URL) string {
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return "webpage"
	}
	if base := path.Base(p); base != "" && base != "." && base != "/" {
		return base
	}
	return "webpage"
}
