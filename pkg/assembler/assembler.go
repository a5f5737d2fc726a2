package assembler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sitewright/sitewright/pkg/models"
)

// ErrTemplateNotFound indicates no catalog template supports the
// requested style.
var ErrTemplateNotFound = errors.New("template not found")

// AssemblyError reports a failure while writing or packaging the site
type AssemblyError struct {
	Step string
	Err  error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly %s: %v", e.Step, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Assembler renders synthesized content and processed variants into a
// browsable site tree plus a downloadable zip bundle.
type Assembler struct {
	catalog *Catalog
	dataDir string
}

// New creates an assembler writing under dataDir (sites/ and bundles/
// subdirectories are created on demand).
func New(catalog *Catalog, dataDir string) *Assembler {
	return &Assembler{catalog: catalog, dataDir: dataDir}
}

// Catalog returns the template catalog the assembler selects from
func (a *Assembler) Catalog() *Catalog {
	return a.catalog
}

// SiteDir returns the on-disk directory for a generation's site tree
func (a *Assembler) SiteDir(generationID string) string {
	return filepath.Join(a.dataDir, "sites", generationID)
}

// BundlePath returns the on-disk path of a generation's zip bundle
func (a *Assembler) BundlePath(generationID string) string {
	return filepath.Join(a.dataDir, "bundles", generationID+".zip")
}

// Assemble writes the full site tree and zip bundle for one job.
// The tree is written completely before the bundle so a crash never
// leaves a bundle without its site.
func (a *Assembler) Assemble(ctx context.Context, generationID string, req *models.GenerationRequest, content *models.SiteContent, variants []models.ImageVariant) (*models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmpl, err := a.catalog.Select(req.Style)
	if err != nil {
		return nil, err
	}

	siteDir := a.SiteDir(generationID)
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		return nil, &AssemblyError{Step: "creating site directory", Err: err}
	}

	if len(variants) > 0 {
		if err := writeAssets(filepath.Join(siteDir, "assets"), variants); err != nil {
			return nil, err
		}
	}

	locales := make([]string, 0, len(content.Locales))
	multi := len(content.Locales) > 1
	for _, lc := range content.Locales {
		locales = append(locales, lc.Locale)
		pageDir := siteDir
		assetPrefix := "assets"
		if multi {
			pageDir = filepath.Join(siteDir, lc.Locale)
			assetPrefix = "../assets"
			if err := os.MkdirAll(pageDir, 0o755); err != nil {
				return nil, &AssemblyError{Step: "creating locale directory", Err: err}
			}
		}
		if err := a.writeLocale(pageDir, assetPrefix, req, &tmpl, &lc, variants); err != nil {
			return nil, err
		}
	}
	if multi {
		if err := writeLocaleIndex(siteDir, content.Locales); err != nil {
			return nil, err
		}
	}

	artifact := &models.Artifact{
		GenerationID: generationID,
		SiteDir:      siteDir,
		BundlePath:   a.BundlePath(generationID),
		IndexPath:    filepath.Join(siteDir, "index.html"),
		TemplateID:   tmpl.ID,
		Locales:      locales,
		CreatedAt:    time.Now().UTC(),
	}
	if err := writeMeta(siteDir, generationID, req, artifact); err != nil {
		return nil, err
	}

	if err := a.writeBundle(siteDir, artifact.BundlePath); err != nil {
		return nil, err
	}
	return artifact, nil
}

// RemoveArtifacts deletes the site tree and bundle for a generation
func (a *Assembler) RemoveArtifacts(generationID string) error {
	if err := os.RemoveAll(a.SiteDir(generationID)); err != nil {
		return err
	}
	err := os.Remove(a.BundlePath(generationID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (a *Assembler) writeLocale(dir, assetPrefix string, req *models.GenerationRequest, tmpl *models.Template, lc *models.LocaleContent, variants []models.ImageVariant) error {
	page, err := renderPage(req, tmpl, lc, variants, assetPrefix)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(page), 0o644); err != nil {
		return &AssemblyError{Step: "writing index.html", Err: err}
	}

	css := baseCSS(req.Theme) + "\n" + lc.CSS
	if err := os.WriteFile(filepath.Join(dir, "styles.css"), []byte(css), 0o644); err != nil {
		return &AssemblyError{Step: "writing styles.css", Err: err}
	}

	if strings.TrimSpace(lc.JS) != "" {
		if err := os.WriteFile(filepath.Join(dir, "script.js"), []byte(lc.JS), 0o644); err != nil {
			return &AssemblyError{Step: "writing script.js", Err: err}
		}
	}
	return nil
}

func writeAssets(dir string, variants []models.ImageVariant) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &AssemblyError{Step: "creating assets directory", Err: err}
	}
	for _, v := range variants {
		if err := os.WriteFile(filepath.Join(dir, v.Filename()), v.Data, 0o644); err != nil {
			return &AssemblyError{Step: "writing " + v.Filename(), Err: err}
		}
	}
	return nil
}

// writeLocaleIndex writes the root page of a multi-language site: a
// redirect to the first locale plus plain links for the rest.
func writeLocaleIndex(siteDir string, locales []models.LocaleContent) error {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	sb.WriteString("  <meta charset=\"utf-8\">\n")
	sb.WriteString("  <meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	fmt.Fprintf(&sb, "  <meta http-equiv=\"refresh\" content=\"0; url=%s/\">\n", locales[0].Locale)
	sb.WriteString("  <title>Choose language</title>\n</head>\n<body>\n  <ul>\n")
	for _, lc := range locales {
		fmt.Fprintf(&sb, "    <li><a href=\"%s/\">%s</a></li>\n", lc.Locale, template.HTMLEscapeString(lc.Title))
	}
	sb.WriteString("  </ul>\n</body>\n</html>\n")
	if err := os.WriteFile(filepath.Join(siteDir, "index.html"), []byte(sb.String()), 0o644); err != nil {
		return &AssemblyError{Step: "writing locale index", Err: err}
	}
	return nil
}

// siteMeta is the manifest written next to the site tree
type siteMeta struct {
	GenerationID string    `json:"generation_id"`
	SiteName     string    `json:"site_name"`
	Style        string    `json:"style"`
	Theme        string    `json:"theme"`
	TemplateID   string    `json:"template_id"`
	Locales      []string  `json:"locales"`
	SEOEnabled   bool      `json:"seo_enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

func writeMeta(siteDir, generationID string, req *models.GenerationRequest, artifact *models.Artifact) error {
	meta := siteMeta{
		GenerationID: generationID,
		SiteName:     req.SiteName,
		Style:        string(req.Style),
		Theme:        string(req.Theme),
		TemplateID:   artifact.TemplateID,
		Locales:      artifact.Locales,
		SEOEnabled:   req.SEOEnabled,
		CreatedAt:    artifact.CreatedAt,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return &AssemblyError{Step: "encoding meta.json", Err: err}
	}
	if err := os.WriteFile(filepath.Join(siteDir, "meta.json"), data, 0o644); err != nil {
		return &AssemblyError{Step: "writing meta.json", Err: err}
	}
	return nil
}

// writeBundle zips the site tree with forward-slash paths so the
// archive unpacks identically on every platform.
func (a *Assembler) writeBundle(siteDir, bundlePath string) error {
	if err := os.MkdirAll(filepath.Dir(bundlePath), 0o755); err != nil {
		return &AssemblyError{Step: "creating bundles directory", Err: err}
	}

	tmp := bundlePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &AssemblyError{Step: "creating bundle", Err: err}
	}

	zw := zip.NewWriter(f)
	err = filepath.Walk(siteDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(siteDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err == nil {
		err = zw.Close()
	} else {
		zw.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return &AssemblyError{Step: "packaging bundle", Err: err}
	}
	if err := os.Rename(tmp, bundlePath); err != nil {
		return &AssemblyError{Step: "finalizing bundle", Err: err}
	}
	return nil
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}"{{if .DarkTheme}} data-theme="dark"{{end}}>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Title}}</title>
{{- if .SEO.Description}}
  <meta name="description" content="{{.SEO.Description}}">
{{- end}}
{{- if .SEO.Keywords}}
  <meta name="keywords" content="{{.SEO.Keywords}}">
{{- end}}
  <link rel="stylesheet" href="styles.css">
</head>
<body class="template-{{.TemplateID}}">
  <header id="site-header">
{{.Header}}
  </header>
  <section id="hero">
{{.Hero}}
  </section>
  <main id="content">
{{.Main}}
{{- if .Gallery}}
    <section id="gallery">
{{.Gallery}}
    </section>
{{- end}}
  </main>
  <footer id="site-footer">
{{.Footer}}
  </footer>
{{- if .HasJS}}
  <script src="script.js"></script>
{{- end}}
</body>
</html>
`))

type pageData struct {
	Lang       string
	Title      string
	TemplateID string
	DarkTheme  bool
	SEO        models.SEOMeta
	Header     template.HTML
	Hero       template.HTML
	Main       template.HTML
	Footer     template.HTML
	Gallery    template.HTML
	HasJS      bool
}

func renderPage(req *models.GenerationRequest, tmpl *models.Template, lc *models.LocaleContent, variants []models.ImageVariant, assetPrefix string) (string, error) {
	title := lc.Title
	if req.SEOEnabled && lc.SEO.Title != "" {
		title = lc.SEO.Title
	}
	seo := lc.SEO
	if !req.SEOEnabled {
		seo = models.SEOMeta{}
	}

	data := pageData{
		Lang:       lc.Locale,
		Title:      title,
		TemplateID: tmpl.ID,
		DarkTheme:  req.Theme == models.ThemeDark,
		SEO:        seo,
		Header:     normalizeSection(lc.Sections["header"]),
		Hero:       normalizeSection(lc.Sections["hero"]),
		Main:       normalizeSection(lc.Sections["main"]),
		Footer:     normalizeSection(lc.Sections["footer"]),
		Gallery:    galleryMarkup(variants, req.TargetDevices, assetPrefix),
		HasJS:      strings.TrimSpace(lc.JS) != "",
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", &AssemblyError{Step: "rendering page", Err: err}
	}
	return buf.String(), nil
}

var imgTagRe = regexp.MustCompile(`(?i)<img\b[^>]*>`)

// normalizeSection applies output hygiene to model-produced markup:
// every inline image loads lazily.
func normalizeSection(html string) template.HTML {
	out := imgTagRe.ReplaceAllStringFunc(html, func(tag string) string {
		if strings.Contains(strings.ToLower(tag), "loading=") {
			return tag
		}
		return strings.Replace(tag, "<img", `<img loading="lazy"`, 1)
	})
	return template.HTML(out)
}

// galleryMarkup builds one <picture> per source image, with a media
// source per requested breakpoint and the widest variant as fallback.
func galleryMarkup(variants []models.ImageVariant, devices []models.Breakpoint, assetPrefix string) template.HTML {
	if len(variants) == 0 {
		return ""
	}

	bySource := make(map[string][]models.ImageVariant)
	var order []string
	for _, v := range variants {
		if _, seen := bySource[v.SourceID]; !seen {
			order = append(order, v.SourceID)
		}
		bySource[v.SourceID] = append(bySource[v.SourceID], v)
	}

	var sb strings.Builder
	for _, id := range order {
		vs := bySource[id]
		sort.Slice(vs, func(i, j int) bool { return vs[i].Width < vs[j].Width })

		sb.WriteString("      <picture>\n")
		for _, v := range vs[:len(vs)-1] {
			fmt.Fprintf(&sb, "        <source media=\"(max-width: %dpx)\" srcset=\"%s/%s\">\n",
				v.Breakpoint.Width(), assetPrefix, v.Filename())
		}
		widest := vs[len(vs)-1]
		fmt.Fprintf(&sb, "        <img src=\"%s/%s\" alt=\"%s\" loading=\"lazy\" width=\"%d\" height=\"%d\">\n",
			assetPrefix, widest.Filename(), template.HTMLEscapeString(widest.SourceName), widest.Width, widest.Height)
		sb.WriteString("      </picture>\n")
	}
	return template.HTML(sb.String())
}

// baseCSS is prepended to every stylesheet so all generated sites share
// the same responsive breakpoints and theme variables.
func baseCSS(theme models.Theme) string {
	var sb strings.Builder
	sb.WriteString(`:root {
  --color-bg: #ffffff;
  --color-fg: #1a1a1a;
  --color-accent: #2563eb;
}
`)
	switch theme {
	case models.ThemeDark:
		sb.WriteString(`html[data-theme="dark"], :root {
  --color-bg: #111827;
  --color-fg: #f3f4f6;
}
`)
	case models.ThemeAuto:
		sb.WriteString(`@media (prefers-color-scheme: dark) {
  :root {
    --color-bg: #111827;
    --color-fg: #f3f4f6;
  }
}
`)
	}
	sb.WriteString(`* { box-sizing: border-box; }
body {
  margin: 0;
  background: var(--color-bg);
  color: var(--color-fg);
  font-family: system-ui, -apple-system, sans-serif;
  line-height: 1.6;
}
img { max-width: 100%; height: auto; }
@media (prefers-reduced-motion: reduce) {
  * { animation: none !important; transition: none !important; }
}
main { max-width: 1440px; margin: 0 auto; padding: 1rem; }
#gallery { display: grid; gap: 1rem; grid-template-columns: 1fr; }
@media (min-width: 480px) {
  main { padding: 1.5rem; }
}
@media (min-width: 768px) {
  #gallery { grid-template-columns: repeat(2, 1fr); }
}
@media (min-width: 1440px) {
  #gallery { grid-template-columns: repeat(3, 1fr); }
}
`)
	return sb.String()
}
