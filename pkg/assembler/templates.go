package assembler

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sitewright/sitewright/pkg/models"
)

// builtinTemplates is the catalog shipped with the binary. An overlay
// file can extend or replace entries without a rebuild.
var builtinTemplates = []models.Template{
	{
		ID:          "modern-business",
		Name:        "Modern Business",
		Description: "Clean corporate layout with a bold hero and service grid",
		Category:    "business",
		Styles:      []models.Style{models.StyleModern, models.StyleClassic},
	},
	{
		ID:          "portfolio-creative",
		Name:        "Creative Portfolio",
		Description: "Gallery-first layout for showcasing visual work",
		Category:    "portfolio",
		Styles:      []models.Style{models.StyleCreative, models.StyleMinimal},
	},
	{
		ID:          "ecommerce-minimal",
		Name:        "Minimal Storefront",
		Description: "Product-focused layout with uncluttered navigation",
		Category:    "ecommerce",
		Styles:      []models.Style{models.StyleMinimal, models.StyleModern},
	},
}

// Catalog holds the immutable set of available site templates
type Catalog struct {
	templates map[string]models.Template
}

// NewCatalog returns the built-in catalog
func NewCatalog() *Catalog {
	c := &Catalog{templates: make(map[string]models.Template)}
	for _, t := range builtinTemplates {
		c.templates[t.ID] = t
	}
	return c
}

// NewCatalogFromFile loads the built-in catalog and applies the YAML
// overlay at path. Overlay entries with a known ID replace the
// built-in definition; new IDs are appended.
func NewCatalogFromFile(path string) (*Catalog, error) {
	c := NewCatalog()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template overlay: %w", err)
	}
	var overlay struct {
		Templates []models.Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing template overlay: %w", err)
	}
	for _, t := range overlay.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template overlay entry missing id")
		}
		c.templates[t.ID] = t
	}
	return c, nil
}

// List returns all templates sorted by ID
func (c *Catalog) List() []models.Template {
	out := make([]models.Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get looks up a template by ID
func (c *Catalog) Get(id string) (models.Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

// Select picks the template for a requested style. A template whose
// primary style matches wins; otherwise the first compatible one in ID
// order. Every built-in style has at least one match.
func (c *Catalog) Select(style models.Style) (models.Template, error) {
	all := c.List()
	for _, t := range all {
		if len(t.Styles) > 0 && t.Styles[0] == style {
			return t, nil
		}
	}
	for _, t := range all {
		if t.Compatible(style) {
			return t, nil
		}
	}
	return models.Template{}, fmt.Errorf("%w: no template supports style %q", ErrTemplateNotFound, style)
}
