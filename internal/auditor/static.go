package auditor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
)

// StaticRunner fetches the document over HTTP and checks it against a fixed
// set of markup rules. It sees the page as served, without scripts.
type StaticRunner struct {
	cfg    Config
	client *http.Client
	logger logging.Logger
}

// NewStaticRunner builds a StaticRunner. A nil client gets a default one.
func NewStaticRunner(cfg Config, client *http.Client, logger logging.Logger) *StaticRunner {
	cfg.applyDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &StaticRunner{cfg: cfg, client: client, logger: logger}
}

func (r *StaticRunner) Audit(ctx context.Context, url string) (*model.AuditReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fail(url, err, true)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fail(url, err, false)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// 4xx will not change on retry, except throttling.
		permanent := resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests &&
			resp.StatusCode != http.StatusRequestTimeout
		return nil, fail(url, fmt.Errorf("unexpected status %d", resp.StatusCode), permanent)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if mt != "text/html" && mt != "application/xhtml+xml" {
			return nil, fail(url, fmt.Errorf("%w: content type %q is not html", ErrMalformed, mt), true)
		}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, r.cfg.MaxBodyBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fail(url, context.DeadlineExceeded, false)
		}
		return nil, fail(url, fmt.Errorf("parse html: %w", err), false)
	}

	report := checkDocument(doc)
	report.URL = url
	report.Engine = "static"
	report.DurationMS = time.Since(start).Milliseconds()

	if r.logger != nil {
		r.logger.Debug("static audit finished",
			logging.Field{Key: "url", Value: url},
			logging.Field{Key: "violations", Value: len(report.Findings)},
			logging.Field{Key: "passes", Value: report.PassedCount})
	}
	return report, nil
}

func (r *StaticRunner) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// staticRule inspects a document. applicable is false when the page has
// nothing the rule could test; violations lists offending selectors.
type staticRule struct {
	id       string
	severity model.Severity
	help     string
	tags     []string
	check    func(doc *goquery.Document) (applicable bool, violations []string)
}

var staticRules = []staticRule{
	{id: "image-alt", severity: model.SeverityCritical, help: "Images must have alternate text", tags: []string{"wcag2a"}, check: checkImageAlt},
	{id: "html-has-lang", severity: model.SeveritySerious, help: "<html> element must have a lang attribute", tags: []string{"wcag2a"}, check: checkHTMLLang},
	{id: "document-title", severity: model.SeveritySerious, help: "Documents must have <title> element to aid in navigation", tags: []string{"wcag2a"}, check: checkTitle},
	{id: "label", severity: model.SeverityCritical, help: "Form elements must have labels", tags: []string{"wcag2a"}, check: checkLabels},
	{id: "link-name", severity: model.SeveritySerious, help: "Links must have discernible text", tags: []string{"wcag2a"}, check: checkLinkName},
	{id: "button-name", severity: model.SeverityCritical, help: "Buttons must have discernible text", tags: []string{"wcag2a"}, check: checkButtonName},
	{id: "frame-title", severity: model.SeveritySerious, help: "Frames must have an accessible name", tags: []string{"wcag2a"}, check: checkFrameTitle},
	{id: "duplicate-id", severity: model.SeverityMinor, help: "id attribute values must be unique", tags: []string{"wcag2a"}, check: checkDuplicateID},
	{id: "meta-viewport", severity: model.SeverityCritical, help: "Zooming and scaling must not be disabled", tags: []string{"wcag2aa"}, check: checkMetaViewport},
}

func checkDocument(doc *goquery.Document) *model.AuditReport {
	report := &model.AuditReport{Findings: []model.Finding{}}
	for _, rule := range staticRules {
		applicable, violations := rule.check(doc)
		if !applicable {
			continue
		}
		if len(violations) == 0 {
			report.PassedCount++
			continue
		}
		report.Findings = append(report.Findings, model.Finding{
			RuleID:   rule.id,
			Severity: rule.severity,
			Targets:  violations,
			Message:  fmt.Sprintf("%d element(s) fail %s", len(violations), rule.id),
			Help:     rule.help,
			HelpURL:  "https://dequeuniversity.com/rules/axe/4.10/" + rule.id,
			Tags:     rule.tags,
		})
	}
	return report
}

// ─── rules ─────────────────────────────────────────────────────────────

func attr(s *goquery.Selection, name string) (string, bool) {
	v, ok := s.Attr(name)
	return strings.TrimSpace(v), ok
}

func hasAccessibleName(s *goquery.Selection) bool {
	if v, _ := attr(s, "aria-label"); v != "" {
		return true
	}
	if v, _ := attr(s, "aria-labelledby"); v != "" {
		return true
	}
	if v, _ := attr(s, "title"); v != "" {
		return true
	}
	return false
}

func isPresentational(s *goquery.Selection) bool {
	role, _ := attr(s, "role")
	return role == "presentation" || role == "none"
}

func checkImageAlt(doc *goquery.Document) (bool, []string) {
	imgs := doc.Find("img")
	var bad []string
	imgs.Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("alt"); ok || isPresentational(s) || hasAccessibleName(s) {
			return
		}
		bad = append(bad, selectorFor(s))
	})
	return imgs.Length() > 0, bad
}

func checkHTMLLang(doc *goquery.Document) (bool, []string) {
	h := doc.Find("html").First()
	if v, _ := attr(h, "lang"); v != "" {
		return true, nil
	}
	return true, []string{"html"}
}

func checkTitle(doc *goquery.Document) (bool, []string) {
	if strings.TrimSpace(doc.Find("head title").First().Text()) != "" {
		return true, nil
	}
	return true, []string{"html"}
}

func checkLabels(doc *goquery.Document) (bool, []string) {
	labelled := map[string]bool{}
	doc.Find("label[for]").Each(func(_ int, s *goquery.Selection) {
		if v, _ := attr(s, "for"); v != "" {
			labelled[v] = true
		}
	})

	fields := doc.Find("input, select, textarea").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if nodeAtom(s) != atom.Input {
			return true
		}
		switch t, _ := attr(s, "type"); strings.ToLower(t) {
		case "hidden", "submit", "button", "reset", "image":
			return false
		}
		return true
	})
	var bad []string
	fields.Each(func(_ int, s *goquery.Selection) {
		if hasAccessibleName(s) {
			return
		}
		if id, _ := attr(s, "id"); id != "" && labelled[id] {
			return
		}
		if s.ParentsFiltered("label").Length() > 0 {
			return
		}
		bad = append(bad, selectorFor(s))
	})
	return fields.Length() > 0, bad
}

func checkLinkName(doc *goquery.Document) (bool, []string) {
	links := doc.Find("a[href]")
	var bad []string
	links.Each(func(_ int, s *goquery.Selection) {
		if hasAccessibleName(s) || strings.TrimSpace(s.Text()) != "" {
			return
		}
		named := false
		s.Find("img[alt]").Each(func(_ int, img *goquery.Selection) {
			if v, _ := attr(img, "alt"); v != "" {
				named = true
			}
		})
		if !named {
			bad = append(bad, selectorFor(s))
		}
	})
	return links.Length() > 0, bad
}

func checkButtonName(doc *goquery.Document) (bool, []string) {
	buttons := doc.Find(`button, input[type="button"], input[type="submit"], input[type="reset"]`)
	var bad []string
	buttons.Each(func(_ int, s *goquery.Selection) {
		if hasAccessibleName(s) {
			return
		}
		if nodeAtom(s) == atom.Input {
			t, _ := attr(s, "type")
			if v, _ := attr(s, "value"); v != "" || strings.EqualFold(t, "submit") || strings.EqualFold(t, "reset") {
				// submit and reset have a default label
				return
			}
		} else if strings.TrimSpace(s.Text()) != "" {
			return
		}
		bad = append(bad, selectorFor(s))
	})
	return buttons.Length() > 0, bad
}

func checkFrameTitle(doc *goquery.Document) (bool, []string) {
	frames := doc.Find("iframe, frame")
	var bad []string
	frames.Each(func(_ int, s *goquery.Selection) {
		if !hasAccessibleName(s) {
			bad = append(bad, selectorFor(s))
		}
	})
	return frames.Length() > 0, bad
}

func checkDuplicateID(doc *goquery.Document) (bool, []string) {
	seen := map[string]int{}
	var order []string
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		id, _ := attr(s, "id")
		if id == "" {
			return
		}
		if seen[id] == 0 {
			order = append(order, id)
		}
		seen[id]++
	})
	var bad []string
	for _, id := range order {
		if seen[id] > 1 {
			bad = append(bad, "#"+id)
		}
	}
	return len(order) > 0, bad
}

func checkMetaViewport(doc *goquery.Document) (bool, []string) {
	metas := doc.Find(`meta[name="viewport"]`)
	var bad []string
	metas.Each(func(_ int, s *goquery.Selection) {
		content, _ := attr(s, "content")
		for _, part := range strings.Split(content, ",") {
			k, v, _ := strings.Cut(part, "=")
			k = strings.ToLower(strings.TrimSpace(k))
			v = strings.ToLower(strings.TrimSpace(v))
			switch k {
			case "user-scalable":
				if v == "no" || v == "0" {
					bad = append(bad, selectorFor(s))
					return
				}
			case "maximum-scale":
				if f, err := strconv.ParseFloat(v, 64); err == nil && f < 2 {
					bad = append(bad, selectorFor(s))
					return
				}
			}
		}
	})
	return metas.Length() > 0, bad
}

// ─── selectors ─────────────────────────────────────────────────────────

func nodeAtom(s *goquery.Selection) atom.Atom {
	if len(s.Nodes) == 0 {
		return 0
	}
	return s.Nodes[0].DataAtom
}

// selectorFor builds a CSS path for the first node of s, anchored at the
// nearest ancestor with an id.
func selectorFor(s *goquery.Selection) string {
	if len(s.Nodes) == 0 {
		return ""
	}
	var parts []string
	for n := s.Nodes[0]; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if id := nodeAttr(n, "id"); id != "" {
			parts = append(parts, n.Data+"#"+id)
			break
		}
		if n.DataAtom == atom.Html || n.DataAtom == atom.Body {
			parts = append(parts, n.Data)
			break
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", n.Data, nthOfType(n)))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func nthOfType(n *html.Node) int {
	i := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == n.Data {
			i++
		}
	}
	return i
}
