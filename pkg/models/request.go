package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Style is the requested visual style of the generated site
type Style string

const (
	StyleModern   Style = "modern"
	StyleClassic  Style = "classic"
	StyleMinimal  Style = "minimal"
	StyleCreative Style = "creative"
)

// Theme is the requested color theme
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// Upload limits enforced at intake
const (
	MaxImages        = 10
	MaxImageBytes    = 10 << 20 // 10 MiB per upload
	MaxNameLength    = 100
	MaxDescriptionLength = 1000
)

// SourceImage is one raw uploaded image
type SourceImage struct {
	Filename string
	Data     []byte
}

// GenerationRequest is the validated, immutable intake brief.
// Construct with Validate before creating a job; nothing mutates it
// afterwards.
type GenerationRequest struct {
	SiteName      string        `json:"site_name"`
	Description   string        `json:"description"`
	Style         Style         `json:"style"`
	Theme         Theme         `json:"theme"`
	TargetDevices []Breakpoint  `json:"target_devices"`
	SEOEnabled    bool          `json:"seo_enabled"`
	MultiLanguage bool          `json:"multi_language"`
	Locales       []string      `json:"locales,omitempty"`
	Images        []SourceImage `json:"-"`
}

// Validate checks the brief against intake constraints
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.SiteName) == "" {
		return fmt.Errorf("site_name is required")
	}
	if len(r.SiteName) > MaxNameLength {
		return fmt.Errorf("site_name exceeds %d characters", MaxNameLength)
	}
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if len(r.Description) > MaxDescriptionLength {
		return fmt.Errorf("description exceeds %d characters", MaxDescriptionLength)
	}
	switch r.Style {
	case StyleModern, StyleClassic, StyleMinimal, StyleCreative:
	default:
		return fmt.Errorf("invalid style %q (valid: modern, classic, minimal, creative)", r.Style)
	}
	switch r.Theme {
	case ThemeLight, ThemeDark, ThemeAuto:
	default:
		return fmt.Errorf("invalid theme %q (valid: light, dark, auto)", r.Theme)
	}
	if len(r.TargetDevices) == 0 {
		return fmt.Errorf("at least one target device is required")
	}
	seen := make(map[Breakpoint]bool)
	for _, d := range r.TargetDevices {
		if !d.Valid() {
			return fmt.Errorf("invalid target device %q (valid: mobile, tablet, desktop)", d)
		}
		if seen[d] {
			return fmt.Errorf("duplicate target device %q", d)
		}
		seen[d] = true
	}
	if len(r.Images) > MaxImages {
		return fmt.Errorf("too many images: %d (limit %d)", len(r.Images), MaxImages)
	}
	for _, img := range r.Images {
		if len(img.Data) == 0 {
			return fmt.Errorf("image %q is empty", img.Filename)
		}
		if len(img.Data) > MaxImageBytes {
			return fmt.Errorf("image %q exceeds %d bytes", img.Filename, MaxImageBytes)
		}
	}
	return nil
}

// EffectiveLocales returns the locales to synthesize content for
func (r *GenerationRequest) EffectiveLocales() []string {
	if !r.MultiLanguage {
		return []string{"en"}
	}
	if len(r.Locales) > 0 {
		return r.Locales
	}
	return []string{"en", "es"}
}

// Hash returns a stable digest of the brief, used by the result cache
// to short-circuit identical submissions.
func (r *GenerationRequest) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%t|%t", r.SiteName, r.Description, r.Style, r.Theme, r.SEOEnabled, r.MultiLanguage)
	for _, l := range r.EffectiveLocales() {
		fmt.Fprintf(h, "|%s", l)
	}
	for _, d := range r.TargetDevices {
		fmt.Fprintf(h, "|%s", d)
	}
	for _, img := range r.Images {
		sum := sha256.Sum256(img.Data)
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
