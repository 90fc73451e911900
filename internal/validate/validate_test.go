package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/model"
)

func valid() model.CandidateSupervisor {
	return model.CandidateSupervisor{
		Name:        "Jane Smith",
		Institution: "Example University",
		SourceURL:   "https://uni.edu/people/jane",
		ProfileURL:  "https://uni.edu/people/jane",
		Email:       "jane.smith@uni.edu",
		FitScore:    0.45,
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	v := New(config.DefaultThresholds())

	tests := []struct {
		name   string
		mutate func(c *model.CandidateSupervisor)
		ok     bool
		reason string
	}{
		{"valid", func(*model.CandidateSupervisor) {}, true, ""},
		{"no email is fine", func(c *model.CandidateSupervisor) { c.Email = "" }, true, ""},
		{"no profile url is fine", func(c *model.CandidateSupervisor) { c.ProfileURL = "" }, true, ""},
		{"empty name", func(c *model.CandidateSupervisor) { c.Name = "" }, false, ReasonNoName},
		{"one char name", func(c *model.CandidateSupervisor) { c.Name = " J " }, false, ReasonNoName},
		{"no institution", func(c *model.CandidateSupervisor) { c.Institution = "U" }, false, ReasonNoInstitution},
		{"no source", func(c *model.CandidateSupervisor) { c.SourceURL = "  " }, false, ReasonNoSourceURL},
		{"bad email", func(c *model.CandidateSupervisor) { c.Email = "jane at uni" }, false, ReasonInvalidEmail},
		{"email without tld", func(c *model.CandidateSupervisor) { c.Email = "jane@uni" }, false, ReasonInvalidEmail},
		{"relative profile url", func(c *model.CandidateSupervisor) { c.ProfileURL = "/people/jane" }, false, ReasonInvalidProfileURL},
		{"low fit", func(c *model.CandidateSupervisor) { c.FitScore = 0.08 }, false, ReasonVeryLowFitScore},
		{"low fit PI", func(c *model.CandidateSupervisor) { c.FitScore = 0.08; c.IsPI = true }, true, ""},
		{"very low fit PI", func(c *model.CandidateSupervisor) { c.FitScore = 0.04; c.IsPI = true }, false, ReasonVeryLowFitScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tt.mutate(&c)
			ok, reason := v.Validate(&c)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	ok, reason := New(config.DefaultThresholds()).Validate(nil)
	assert.False(t, ok)
	assert.Equal(t, ReasonNoName, reason)
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("a.b+c@dept.uni.ac.uk"))
	assert.False(t, ValidEmail("a@b"))
	assert.False(t, ValidEmail(" a@b.com"))
}
