package models

// SEOMeta carries page-level metadata emitted when SEO is enabled
type SEOMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Keywords    string `json:"keywords"`
}

// LocaleContent is the synthesized copy for one locale
type LocaleContent struct {
	Locale   string            `json:"locale"`
	Title    string            `json:"title"`
	Sections map[string]string `json:"sections"`
	CSS      string            `json:"css,omitempty"`
	JS       string            `json:"js,omitempty"`
	SEO      SEOMeta           `json:"seo"`
}

// SiteContent is the structured output of the content synthesis stage.
// Immutable once produced.
type SiteContent struct {
	SiteName string          `json:"site_name"`
	Locales  []LocaleContent `json:"locales"`
}

// Required section slots every synthesized locale must fill
var RequiredSections = []string{"header", "hero", "main", "footer"}
