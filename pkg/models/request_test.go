package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() *GenerationRequest {
	return &GenerationRequest{
		SiteName:      "My Site",
		Description:   "A description",
		Style:         StyleModern,
		Theme:         ThemeLight,
		TargetDevices: []Breakpoint{BreakpointMobile, BreakpointDesktop},
	}
}

func TestValidateAcceptsGoodBrief(t *testing.T) {
	assert.NoError(t, validRequest().Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*GenerationRequest)
		wantMsg string
	}{
		{"empty name", func(r *GenerationRequest) { r.SiteName = "  " }, "site_name"},
		{"long name", func(r *GenerationRequest) { r.SiteName = strings.Repeat("x", MaxNameLength+1) }, "site_name"},
		{"empty description", func(r *GenerationRequest) { r.Description = "" }, "description"},
		{"long description", func(r *GenerationRequest) { r.Description = strings.Repeat("x", MaxDescriptionLength+1) }, "description"},
		{"bad style", func(r *GenerationRequest) { r.Style = "brutalist" }, "style"},
		{"bad theme", func(r *GenerationRequest) { r.Theme = "sepia" }, "theme"},
		{"no devices", func(r *GenerationRequest) { r.TargetDevices = nil }, "target device"},
		{"bad device", func(r *GenerationRequest) { r.TargetDevices = []Breakpoint{"watch"} }, "invalid target device"},
		{"dup device", func(r *GenerationRequest) {
			r.TargetDevices = []Breakpoint{BreakpointMobile, BreakpointMobile}
		}, "duplicate"},
		{"too many images", func(r *GenerationRequest) {
			for i := 0; i <= MaxImages; i++ {
				r.Images = append(r.Images, SourceImage{Filename: "a.png", Data: []byte{1}})
			}
		}, "too many images"},
		{"empty image", func(r *GenerationRequest) {
			r.Images = []SourceImage{{Filename: "a.png"}}
		}, "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			err := req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestEffectiveLocales(t *testing.T) {
	req := validRequest()
	assert.Equal(t, []string{"en"}, req.EffectiveLocales())

	req.MultiLanguage = true
	assert.Equal(t, []string{"en", "es"}, req.EffectiveLocales())

	req.Locales = []string{"fr", "de"}
	assert.Equal(t, []string{"fr", "de"}, req.EffectiveLocales())
}

func TestHashStability(t *testing.T) {
	a := validRequest()
	b := validRequest()
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 32)

	b.Description = "something else"
	assert.NotEqual(t, a.Hash(), b.Hash())

	c := validRequest()
	c.Images = []SourceImage{{Filename: "x.png", Data: []byte("pixels")}}
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestBreakpointWidths(t *testing.T) {
	assert.Equal(t, 480, BreakpointMobile.Width())
	assert.Equal(t, 768, BreakpointTablet.Width())
	assert.Equal(t, 1440, BreakpointDesktop.Width())
	assert.False(t, Breakpoint("tv").Valid())
}

func TestJobCloneIsDeep(t *testing.T) {
	job := &Job{ID: "j1", Status: JobStatusProcessing}
	job.Transitions = []StateTransition{{From: JobStatusQueued, To: JobStatusProcessing}}

	cp := job.Clone()
	cp.Transitions[0].To = JobStatusError
	cp.Status = JobStatusError

	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.Equal(t, JobStatusProcessing, job.Transitions[0].To)
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusError.Terminal())
	assert.True(t, JobStatusCanceled.Terminal())
}
