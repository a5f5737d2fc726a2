package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sitewright/sitewright/pkg/models"
)

const systemPrompt = `You are a senior frontend developer producing complete, responsive,
accessible websites. Requirements: mobile-first layout, semantic HTML5 section content,
CSS custom properties for colors, light/dark theme support, SEO-friendly structure.

Return ONLY a JSON object with this shape:
{
  "title": "page title",
  "sections": {"header": "...", "hero": "...", "main": "...", "footer": "..."},
  "css": "additional CSS (optional)",
  "js": "JavaScript (optional)",
  "seo": {"title": "...", "description": "...", "keywords": "..."}
}
No explanatory text outside the JSON.`

// Synthesizer turns a validated brief into structured site content by
// calling the external generative service, one request per locale.
type Synthesizer struct {
	client      Client
	callTimeout time.Duration
}

// Option configures the Synthesizer
type Option func(*Synthesizer)

// WithCallTimeout sets the per-request deadline for external calls
func WithCallTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.callTimeout = d }
}

// New creates a Synthesizer backed by the given client
func New(client Client, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		client:      client,
		callTimeout: 90 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize produces SiteContent for every requested locale. A failure
// in any locale fails the whole stage; partial-language sites are never
// returned.
func (s *Synthesizer) Synthesize(ctx context.Context, req *models.GenerationRequest) (*models.SiteContent, error) {
	locales := req.EffectiveLocales()

	results := make([]models.LocaleContent, len(locales))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, locale := range locales {
		g.Go(func() error {
			content, err := s.synthesizeLocale(gctx, req, locale)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = *content
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.SiteContent{
		SiteName: req.SiteName,
		Locales:  results,
	}, nil
}

func (s *Synthesizer) synthesizeLocale(ctx context.Context, req *models.GenerationRequest, locale string) (*models.LocaleContent, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	raw, err := s.client.Complete(callCtx, systemPrompt, buildPrompt(req, locale))
	if err != nil {
		return nil, err
	}

	content, err := parseLocaleContent(raw, locale)
	if err != nil {
		return nil, err
	}
	if req.SEOEnabled && content.SEO.Title == "" {
		content.SEO.Title = content.Title
	}
	return content, nil
}

// buildPrompt renders the brief into the user prompt for one locale
func buildPrompt(req *models.GenerationRequest, locale string) string {
	devices := make([]string, len(req.TargetDevices))
	for i, d := range req.TargetDevices {
		devices[i] = string(d)
	}
	sort.Strings(devices)

	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Create a responsive website.\n")
	fmt.Fprintf(sb, "Site name: %s\n", req.SiteName)
	fmt.Fprintf(sb, "Description: %s\n", req.Description)
	fmt.Fprintf(sb, "Design style: %s\n", req.Style)
	fmt.Fprintf(sb, "Color theme: %s\n", req.Theme)
	fmt.Fprintf(sb, "Target devices: %s\n", strings.Join(devices, ", "))
	fmt.Fprintf(sb, "Content language: %s\n", locale)
	if req.SEOEnabled {
		sb.WriteString("Include SEO metadata (title, description, keywords).\n")
	}
	sb.WriteString("Required sections: header with navigation, hero with call to action, main content, footer with contacts.\n")
	sb.WriteString("Return the JSON object only.")
	return sb.String()
}

type localePayload struct {
	Title    string            `json:"title"`
	Sections map[string]string `json:"sections"`
	CSS      string            `json:"css"`
	JS       string            `json:"js"`
	SEO      models.SEOMeta    `json:"seo"`
}

// parseLocaleContent validates the raw model output. Shape violations
// are non-retryable: the assembler must never see malformed content.
func parseLocaleContent(raw, locale string) (*models.LocaleContent, error) {
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return nil, &ExternalServiceError{Reason: "empty response body"}
	}

	var payload localePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, &ExternalServiceError{Reason: "response is not valid JSON", Err: err}
	}

	if strings.TrimSpace(payload.Title) == "" {
		return nil, &ExternalServiceError{Reason: "response missing title"}
	}
	for _, section := range models.RequiredSections {
		if strings.TrimSpace(payload.Sections[section]) == "" {
			return nil, &ExternalServiceError{Reason: fmt.Sprintf("response missing %q section", section)}
		}
	}

	return &models.LocaleContent{
		Locale:   locale,
		Title:    payload.Title,
		Sections: payload.Sections,
		CSS:      payload.CSS,
		JS:       payload.JS,
		SEO:      payload.SEO,
	}, nil
}

// extractJSONFragment strips code fences and surrounding prose that
// models occasionally wrap around the JSON object.
func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
