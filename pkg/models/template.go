package models

import "time"

// Template is a static catalog entry describing a site skeleton.
// The catalog is loaded once at process start and never mutated.
type Template struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category"`
	Styles      []Style `json:"styles"`
}

// Compatible reports whether the template supports the requested style
func (t *Template) Compatible(style Style) bool {
	for _, s := range t.Styles {
		if s == style {
			return true
		}
	}
	return false
}

// Artifact is the final packaged output of a completed job,
// addressable by generation id and immutable after write.
type Artifact struct {
	GenerationID string    `json:"generation_id"`
	SiteDir      string    `json:"site_dir"`
	BundlePath   string    `json:"bundle_path"`
	IndexPath    string    `json:"index_path"`
	TemplateID   string    `json:"template_id"`
	Locales      []string  `json:"locales"`
	CreatedAt    time.Time `json:"created_at"`
}
