package models

// Breakpoint is a target device class with a canonical rendering width
type Breakpoint string

const (
	BreakpointMobile  Breakpoint = "mobile"
	BreakpointTablet  Breakpoint = "tablet"
	BreakpointDesktop Breakpoint = "desktop"
)

// Canonical widths in pixels per breakpoint
var BreakpointWidths = map[Breakpoint]int{
	BreakpointMobile:  480,
	BreakpointTablet:  768,
	BreakpointDesktop: 1440,
}

// Valid reports whether the breakpoint is one of the known device classes
func (b Breakpoint) Valid() bool {
	_, ok := BreakpointWidths[b]
	return ok
}

// Width returns the canonical pixel width for the breakpoint
func (b Breakpoint) Width() int {
	return BreakpointWidths[b]
}

// ImageVariant is one responsive rendition of a source image.
// Immutable once produced; owned by the job that requested it.
type ImageVariant struct {
	SourceID   string     `json:"source_id"`
	SourceName string     `json:"source_name"`
	Breakpoint Breakpoint `json:"breakpoint"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Format     string     `json:"format"`
	Data       []byte     `json:"-"`
}

// Filename returns the on-disk name for the variant inside the site tree
func (v *ImageVariant) Filename() string {
	return v.SourceID + "_" + string(v.Breakpoint) + "." + v.Format
}
