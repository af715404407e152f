package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inclusa/wcag-audit/internal/snapshot"
)

func TestRunFlagsCommonViolations(t *testing.T) {
	t.Parallel()

	snap := &snapshot.Snapshot{
		RootURL: "https://example.com/",
		Pages: []snapshot.PageModel{{
			URL:          "https://example.com/",
			Lang:         "",
			Title:        "",
			DuplicateIDs: []string{"nav"},
			Images: []snapshot.Image{
				{Tag: "img", Src: "/a.png"},
				{Tag: "img", Src: ""},
			},
			Forms: []snapshot.Form{{
				Fields: []snapshot.Field{
					{Tag: "input", Type: "text", Name: "q"},
				},
			}},
			Headings: []snapshot.Heading{{Level: 2, Text: "Start"}, {Level: 5, Text: "Deep"}},
			Links: []snapshot.Link{
				{Href: "/x", Text: ""},
				{Href: "/y", Text: "click here", IsGeneric: true},
			},
		}},
	}

	result := Run(snap)

	violationRules := map[string]int{}
	for _, v := range result.Violations {
		violationRules[v.Rule]++
	}
	assert.Equal(t, 1, violationRules["html-lang-missing"])
	assert.Equal(t, 1, violationRules["page-title-missing"])
	assert.Equal(t, 1, violationRules["duplicate-id"])
	assert.Equal(t, 1, violationRules["img-empty-src"])
	assert.Equal(t, 2, violationRules["img-alt-missing"])
	assert.Equal(t, 1, violationRules["form-field-unlabelled"])
	assert.Equal(t, 1, violationRules["link-name-missing"])

	warningRules := map[string]int{}
	for _, w := range result.Warnings {
		warningRules[w.Rule]++
	}
	assert.Equal(t, 1, warningRules["heading-skip"])
	assert.Equal(t, 1, warningRules["h1-missing"])
	assert.Equal(t, 1, warningRules["link-text-generic"])
	assert.Equal(t, 1, warningRules["main-landmark-missing"])
	assert.Equal(t, 1, warningRules["skip-link-missing"])
}

func TestRunRecordsPassesOnCleanPage(t *testing.T) {
	t.Parallel()

	snap := &snapshot.Snapshot{
		RootURL: "https://example.com/",
		Pages: []snapshot.PageModel{{
			URL:   "https://example.com/",
			Lang:  "en",
			Title: "Home",
			Images: []snapshot.Image{
				{Tag: "img", Src: "/a.png", Alt: "Office", HasAlt: true},
			},
			Headings: []snapshot.Heading{{Level: 1, Text: "Home"}},
			Landmarks: []snapshot.Landmark{
				{Tag: "main"},
			},
			Links: []snapshot.Link{
				{Href: "#main", Text: "Skip to content", IsSkipLink: true},
			},
		}},
	}

	result := Run(snap)
	assert.Empty(t, result.Violations)
	assert.Empty(t, result.Warnings)

	passRules := map[string]bool{}
	for _, p := range result.Passes {
		passRules[p.Rule] = true
	}
	for _, rule := range []string{
		"html-lang-missing", "page-title-missing", "duplicate-id",
		"img-alt-missing", "main-landmark-missing", "skip-link-missing",
	} {
		assert.True(t, passRules[rule], rule)
	}
}

func TestPlaceholderOnlyFieldIsWarningNotViolation(t *testing.T) {
	t.Parallel()

	snap := &snapshot.Snapshot{
		Pages: []snapshot.PageModel{{
			URL:   "https://example.com/",
			Lang:  "en",
			Title: "Home",
			Forms: []snapshot.Form{{
				Fields: []snapshot.Field{
					{Tag: "input", Type: "text", Name: "q", Placeholder: "Search"},
				},
			}},
		}},
	}

	result := Run(snap)
	for _, v := range result.Violations {
		require.NotEqual(t, "form-field-unlabelled", v.Rule)
	}
	found := false
	for _, w := range result.Warnings {
		if w.Rule == "form-field-unlabelled" {
			found = true
		}
	}
	assert.True(t, found)
}
