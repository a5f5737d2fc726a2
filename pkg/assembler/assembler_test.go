package assembler

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewright/sitewright/pkg/models"
)

func testRequest() *models.GenerationRequest {
	return &models.GenerationRequest{
		SiteName:      "Acme Bakery",
		Description:   "Artisan bread and pastries in downtown Lisbon",
		Style:         models.StyleModern,
		Theme:         models.ThemeLight,
		TargetDevices: []models.Breakpoint{models.BreakpointMobile, models.BreakpointDesktop},
		SEOEnabled:    true,
	}
}

func testContent(locales ...string) *models.SiteContent {
	if len(locales) == 0 {
		locales = []string{"en"}
	}
	content := &models.SiteContent{SiteName: "Acme Bakery"}
	for _, locale := range locales {
		content.Locales = append(content.Locales, models.LocaleContent{
			Locale: locale,
			Title:  "Acme Bakery (" + locale + ")",
			Sections: map[string]string{
				"header": "<nav><a href=\"#\">Home</a></nav>",
				"hero":   "<h1>Fresh bread daily</h1>",
				"main":   "<p>We bake.</p><img src=\"photo.jpg\" alt=\"loaf\">",
				"footer": "<p>contact@acme.example</p>",
			},
			CSS: ".hero { color: red; }",
			JS:  "console.log('hi');",
			SEO: models.SEOMeta{Title: "Acme Bakery", Description: "Best bread", Keywords: "bread, bakery"},
		})
	}
	return content
}

func testVariants() []models.ImageVariant {
	return []models.ImageVariant{
		{SourceID: "abc123", SourceName: "loaf.png", Breakpoint: models.BreakpointMobile, Width: 480, Height: 320, Format: "jpg", Data: []byte("small")},
		{SourceID: "abc123", SourceName: "loaf.png", Breakpoint: models.BreakpointDesktop, Width: 1440, Height: 960, Format: "jpg", Data: []byte("large")},
	}
}

func TestAssembleSingleLocale(t *testing.T) {
	a := New(NewCatalog(), t.TempDir())

	artifact, err := a.Assemble(context.Background(), "gen-1", testRequest(), testContent(), testVariants())
	require.NoError(t, err)
	assert.Equal(t, "gen-1", artifact.GenerationID)
	assert.Equal(t, "modern-business", artifact.TemplateID)
	assert.Equal(t, []string{"en"}, artifact.Locales)

	page, err := os.ReadFile(filepath.Join(artifact.SiteDir, "index.html"))
	require.NoError(t, err)
	html := string(page)

	assert.Contains(t, html, `lang="en"`)
	assert.Contains(t, html, `name="viewport"`)
	assert.Contains(t, html, `<title>Acme Bakery</title>`)
	assert.Contains(t, html, `name="description" content="Best bread"`)
	assert.Contains(t, html, `<picture>`)
	assert.Contains(t, html, `srcset="assets/abc123_mobile.jpg"`)
	// inline images from the model get lazy loading
	assert.Contains(t, html, `<img loading="lazy" src="photo.jpg"`)

	css, err := os.ReadFile(filepath.Join(artifact.SiteDir, "styles.css"))
	require.NoError(t, err)
	assert.Contains(t, string(css), "@media (min-width: 768px)")
	assert.Contains(t, string(css), ".hero { color: red; }")

	_, err = os.Stat(filepath.Join(artifact.SiteDir, "assets", "abc123_desktop.jpg"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(artifact.SiteDir, "script.js"))
	require.NoError(t, err)
}

func TestAssembleMultiLanguage(t *testing.T) {
	a := New(NewCatalog(), t.TempDir())
	req := testRequest()
	req.MultiLanguage = true

	artifact, err := a.Assemble(context.Background(), "gen-2", req, testContent("en", "es"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "es"}, artifact.Locales)

	for _, locale := range []string{"en", "es"} {
		page, err := os.ReadFile(filepath.Join(artifact.SiteDir, locale, "index.html"))
		require.NoError(t, err)
		assert.Contains(t, string(page), `lang="`+locale+`"`)
	}

	root, err := os.ReadFile(filepath.Join(artifact.SiteDir, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(root), `url=en/`)
	assert.Contains(t, string(root), `href="es/"`)
}

func TestAssembleBundleContents(t *testing.T) {
	a := New(NewCatalog(), t.TempDir())

	artifact, err := a.Assemble(context.Background(), "gen-3", testRequest(), testContent(), testVariants())
	require.NoError(t, err)

	zr, err := zip.OpenReader(artifact.BundlePath)
	require.NoError(t, err)
	defer zr.Close()

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
		assert.False(t, strings.Contains(f.Name, "\\"), "zip entries use forward slashes")
	}
	assert.True(t, names["index.html"])
	assert.True(t, names["styles.css"])
	assert.True(t, names["meta.json"])
	assert.True(t, names["assets/abc123_mobile.jpg"])
}

func TestAssembleMetaManifest(t *testing.T) {
	a := New(NewCatalog(), t.TempDir())

	artifact, err := a.Assemble(context.Background(), "gen-4", testRequest(), testContent(), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(artifact.SiteDir, "meta.json"))
	require.NoError(t, err)
	var meta siteMeta
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, "gen-4", meta.GenerationID)
	assert.Equal(t, "Acme Bakery", meta.SiteName)
	assert.Equal(t, "modern-business", meta.TemplateID)
	assert.True(t, meta.SEOEnabled)
}

func TestAssembleSEODisabled(t *testing.T) {
	a := New(NewCatalog(), t.TempDir())
	req := testRequest()
	req.SEOEnabled = false

	artifact, err := a.Assemble(context.Background(), "gen-5", req, testContent(), nil)
	require.NoError(t, err)

	page, err := os.ReadFile(filepath.Join(artifact.SiteDir, "index.html"))
	require.NoError(t, err)
	assert.NotContains(t, string(page), `name="description"`)
	assert.NotContains(t, string(page), `name="keywords"`)
}

func TestRemoveArtifacts(t *testing.T) {
	a := New(NewCatalog(), t.TempDir())

	artifact, err := a.Assemble(context.Background(), "gen-6", testRequest(), testContent(), nil)
	require.NoError(t, err)

	require.NoError(t, a.RemoveArtifacts("gen-6"))
	_, err = os.Stat(artifact.SiteDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(artifact.BundlePath)
	assert.True(t, os.IsNotExist(err))
}

func TestCatalogSelect(t *testing.T) {
	c := NewCatalog()

	for style, wantID := range map[models.Style]string{
		models.StyleModern:   "modern-business",
		models.StyleClassic:  "modern-business",
		models.StyleCreative: "portfolio-creative",
		models.StyleMinimal:  "ecommerce-minimal",
	} {
		tmpl, err := c.Select(style)
		require.NoError(t, err)
		assert.Equal(t, wantID, tmpl.ID, "style %s", style)
	}
}

func TestCatalogOverlay(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(overlay, []byte(`templates:
  - id: landing-bold
    name: Bold Landing
    category: marketing
    styles: [creative]
  - id: modern-business
    name: Renamed Business
    category: business
    styles: [modern]
`), 0o644))

	c, err := NewCatalogFromFile(overlay)
	require.NoError(t, err)

	custom, ok := c.Get("landing-bold")
	require.True(t, ok)
	assert.Equal(t, "Bold Landing", custom.Name)

	replaced, ok := c.Get("modern-business")
	require.True(t, ok)
	assert.Equal(t, "Renamed Business", replaced.Name)

	assert.Len(t, c.List(), 4)
}
