// Package scanner fetches a website's landing page and scores its on-page SEO signals.
package scanner

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"agencyline/internal/config"
	"agencyline/internal/domain"
)

const maxBodyBytes = 5 << 20

// Score weights per signal.
const (
	weightTitle       = 20
	weightDescription = 20
	weightOGTitle     = 10
	weightOGImage     = 10
	weightH1          = 20
	weightFast        = 20
)

type Report struct {
	URL        string
	StatusCode int
	Data       domain.SeoData
	Score      int
}

type Scanner struct {
	client    *http.Client
	userAgent string
	slow      time.Duration
	now       func() time.Time
}

// New builds a Scanner from config. A nil client gets one with the configured timeout.
func New(cfg config.ScannerConfig, client *http.Client) *Scanner {
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		client = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = 2 * time.Second
	}
	return &Scanner{client: client, userAgent: cfg.UserAgent, slow: slow, now: time.Now}
}

// Scan fetches rawURL and scores the page. Non-2xx responses are errors.
func (s *Scanner) Scan(ctx context.Context, rawURL string) (Report, error) {
	target := domain.NormalizeURL(rawURL)
	if target == "" {
		return Report{}, fmt.Errorf("scan: empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Report{}, fmt.Errorf("scan %s: %w", target, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	start := s.now()
	res, err := s.client.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("scan %s: %w", target, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Report{URL: target, StatusCode: res.StatusCode}, fmt.Errorf("scan %s: status %d", target, res.StatusCode)
	}
	data, err := Extract(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return Report{}, fmt.Errorf("scan %s: %w", target, err)
	}
	data.LoadTimeMS = s.now().Sub(start).Milliseconds()
	return Report{
		URL:        target,
		StatusCode: res.StatusCode,
		Data:       data,
		Score:      Score(data, s.slow),
	}, nil
}

// Extract pulls title, description, Open Graph tags and h1 texts out of an HTML document.
func Extract(r io.Reader) (domain.SeoData, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return domain.SeoData{}, fmt.Errorf("parse html: %w", err)
	}
	data := domain.SeoData{H1: []string{}}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if data.Title == "" {
					data.Title = strings.TrimSpace(textOf(n))
				}
			case atom.Meta:
				applyMeta(&data, n)
			case atom.H1:
				if text := strings.TrimSpace(textOf(n)); text != "" {
					data.H1 = append(data.H1, text)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return data, nil
}

func applyMeta(data *domain.SeoData, n *html.Node) {
	var name, property, content string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "name":
			name = strings.ToLower(strings.TrimSpace(a.Val))
		case "property":
			property = strings.ToLower(strings.TrimSpace(a.Val))
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	switch {
	case name == "description" && data.Description == "":
		data.Description = content
	case property == "og:title" && data.OGTitle == "":
		data.OGTitle = content
	case property == "og:image" && data.OGImage == "":
		data.OGImage = content
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// Score turns extracted signals into a 0-100 health score.
func Score(d domain.SeoData, slow time.Duration) int {
	score := 0
	if d.Title != "" {
		score += weightTitle
	}
	if d.Description != "" {
		score += weightDescription
	}
	if d.OGTitle != "" {
		score += weightOGTitle
	}
	if d.OGImage != "" {
		score += weightOGImage
	}
	if len(d.H1) > 0 {
		score += weightH1
	}
	if d.LoadTimeMS < slow.Milliseconds() {
		score += weightFast
	}
	return score
}
