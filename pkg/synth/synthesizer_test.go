package synth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewright/sitewright/pkg/models"
)

func testReq() *models.GenerationRequest {
	return &models.GenerationRequest{
		SiteName:      "Acme",
		Description:   "Test brief",
		Style:         models.StyleModern,
		Theme:         models.ThemeDark,
		TargetDevices: []models.Breakpoint{models.BreakpointDesktop, models.BreakpointMobile},
		SEOEnabled:    true,
	}
}

type funcClient func(ctx context.Context, system, user string) (string, error)

func (f funcClient) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

const goodPayload = `{
	"title": "Acme",
	"sections": {"header": "<nav>h</nav>", "hero": "<h1>hero</h1>", "main": "<p>m</p>", "footer": "<p>f</p>"},
	"css": ".x{}",
	"js": "",
	"seo": {"title": "Acme", "description": "desc", "keywords": "kw"}
}`

func TestSynthesizeSingleLocale(t *testing.T) {
	var prompts []string
	var mu sync.Mutex
	client := funcClient(func(ctx context.Context, system, user string) (string, error) {
		mu.Lock()
		prompts = append(prompts, user)
		mu.Unlock()
		return goodPayload, nil
	})

	content, err := New(client).Synthesize(context.Background(), testReq())
	require.NoError(t, err)
	require.Len(t, content.Locales, 1)
	assert.Equal(t, "en", content.Locales[0].Locale)
	assert.Equal(t, "Acme", content.Locales[0].Title)
	assert.Equal(t, "<h1>hero</h1>", content.Locales[0].Sections["hero"])

	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Site name: Acme")
	assert.Contains(t, prompts[0], "Content language: en")
	assert.Contains(t, prompts[0], "Include SEO metadata")
	// devices are sorted for a stable brief hash
	assert.Contains(t, prompts[0], "Target devices: desktop, mobile")
}

func TestSynthesizeMultiLanguage(t *testing.T) {
	client := funcClient(func(ctx context.Context, system, user string) (string, error) {
		return goodPayload, nil
	})

	req := testReq()
	req.MultiLanguage = true
	content, err := New(client).Synthesize(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, content.Locales, 2)
	assert.Equal(t, "en", content.Locales[0].Locale)
	assert.Equal(t, "es", content.Locales[1].Locale)
}

func TestSynthesizeLocaleFailureFailsAll(t *testing.T) {
	client := funcClient(func(ctx context.Context, system, user string) (string, error) {
		if strings.Contains(user, "Content language: es") {
			return "", &ExternalServiceError{Reason: "refused"}
		}
		return goodPayload, nil
	})

	req := testReq()
	req.MultiLanguage = true
	_, err := New(client).Synthesize(context.Background(), req)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestParseRejectsMissingSections(t *testing.T) {
	cases := map[string]string{
		"no title":    `{"sections": {"header": "h", "hero": "h", "main": "m", "footer": "f"}}`,
		"no footer":   `{"title": "t", "sections": {"header": "h", "hero": "h", "main": "m"}}`,
		"not json":    `here is your website!`,
		"empty":       ``,
		"blank title": `{"title": "  ", "sections": {"header": "h", "hero": "h", "main": "m", "footer": "f"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseLocaleContent(raw, "en")
			require.Error(t, err)
			var ese *ExternalServiceError
			require.True(t, errors.As(err, &ese))
			assert.False(t, ese.Retryable, "shape violations must not be retried")
		})
	}
}

func TestParseStripsCodeFences(t *testing.T) {
	wrapped := "Here you go:\n```json\n" + goodPayload + "\n```\nEnjoy!"
	content, err := parseLocaleContent(wrapped, "en")
	require.NoError(t, err)
	assert.Equal(t, "Acme", content.Title)
}

func TestOpenAIClientClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, true},
		{"upstream down", http.StatusBadGateway, "bad gateway", true},
		{"bad key", http.StatusUnauthorized, `{"error":{"message":"invalid key"}}`, false},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"context too long"}}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			client, err := NewOpenAIClient(OpenAIOptions{APIKey: "test", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), "sys", "user")
			require.Error(t, err)
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestOpenAIClientSendsChatRequest(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`)
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIOptions{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestOpenAIClientEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIOptions{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestOpenAIClientRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIOptions{})
	assert.Error(t, err)
}
