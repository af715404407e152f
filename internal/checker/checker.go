// Package checker runs rule-based accessibility checks that need no model
// call. Its output is fed to every analysis prompt as extra context and
// acts as a safety floor during aggregation.
package checker

import (
	"fmt"

	"github.com/inclusa/wcag-audit/internal/audit"
	"github.com/inclusa/wcag-audit/internal/snapshot"
)

// Run executes all checks against the site model.
func Run(snap *snapshot.Snapshot) audit.CheckResult {
	var result audit.CheckResult
	for _, page := range snap.Pages {
		checkLang(page, &result)
		checkTitle(page, &result)
		checkDuplicateIDs(page, &result)
		checkImages(page, &result)
		checkForms(page, &result)
		checkHeadings(page, &result)
		checkLinks(page, &result)
		checkLandmarks(page, &result)
		checkSkipLinks(page, &result)
	}
	return result
}

func checkLang(p snapshot.PageModel, r *audit.CheckResult) {
	if p.Lang == "" {
		r.Violations = append(r.Violations, audit.CheckFinding{
			Rule:        "html-lang-missing",
			CriterionID: "3.1.1",
			Message:     "document has no lang attribute on <html>",
			PageURL:     p.URL,
			Severity:    "high",
		})
		return
	}
	r.Passes = append(r.Passes, audit.CheckFinding{
		Rule:    "html-lang-missing",
		PageURL: p.URL,
		Message: fmt.Sprintf("document language is %q", p.Lang),
	})
}

func checkTitle(p snapshot.PageModel, r *audit.CheckResult) {
	if p.Title == "" {
		r.Violations = append(r.Violations, audit.CheckFinding{
			Rule:        "page-title-missing",
			CriterionID: "2.4.2",
			Message:     "page has no <title>",
			PageURL:     p.URL,
			Severity:    "high",
		})
		return
	}
	r.Passes = append(r.Passes, audit.CheckFinding{
		Rule:    "page-title-missing",
		PageURL: p.URL,
		Message: "page has a title",
	})
}

func checkDuplicateIDs(p snapshot.PageModel, r *audit.CheckResult) {
	for _, id := range p.DuplicateIDs {
		r.Violations = append(r.Violations, audit.CheckFinding{
			Rule:        "duplicate-id",
			CriterionID: "4.1.1",
			Message:     fmt.Sprintf("id %q appears more than once", id),
			Element:     "#" + id,
			PageURL:     p.URL,
			Severity:    "medium",
		})
	}
	if len(p.DuplicateIDs) == 0 {
		r.Passes = append(r.Passes, audit.CheckFinding{
			Rule:    "duplicate-id",
			PageURL: p.URL,
			Message: "all ids are unique",
		})
	}
}

func checkImages(p snapshot.PageModel, r *audit.CheckResult) {
	missing := 0
	for _, img := range p.Images {
		if img.Src == "" && img.Tag == "img" {
			r.Violations = append(r.Violations, audit.CheckFinding{
				Rule:        "img-empty-src",
				CriterionID: "1.1.1",
				Message:     "image has an empty src attribute",
				Element:     "img",
				PageURL:     p.URL,
				Severity:    "low",
			})
		}
		if !img.HasAlt && img.Role != "presentation" && img.AriaLabel == "" {
			missing++
			r.Violations = append(r.Violations, audit.CheckFinding{
				Rule:        "img-alt-missing",
				CriterionID: "1.1.1",
				Message:     "image has no text alternative",
				Element:     elementRef(img.Tag, img.Src),
				PageURL:     p.URL,
				Severity:    "high",
			})
		}
	}
	if missing == 0 && len(p.Images) > 0 {
		r.Passes = append(r.Passes, audit.CheckFinding{
			Rule:    "img-alt-missing",
			PageURL: p.URL,
			Message: fmt.Sprintf("all %d images carry text alternatives", len(p.Images)),
		})
	}
}

func checkForms(p snapshot.PageModel, r *audit.CheckResult) {
	for _, form := range p.Forms {
		for _, field := range form.Fields {
			if field.HasLabel {
				continue
			}
			finding := audit.CheckFinding{
				Rule:        "form-field-unlabelled",
				CriterionID: "3.3.2",
				Message:     "form field has no associated label",
				Element:     elementRef(field.Tag, field.Name),
				PageURL:     p.URL,
				Severity:    "high",
			}
			// A placeholder alone is not a label, but it softens the finding.
			if field.Placeholder != "" {
				finding.Severity = "medium"
				finding.Message = "form field relies on placeholder instead of a label"
				r.Warnings = append(r.Warnings, finding)
				continue
			}
			r.Violations = append(r.Violations, finding)
		}
	}
}

func checkHeadings(p snapshot.PageModel, r *audit.CheckResult) {
	prev := 0
	h1s := 0
	for _, h := range p.Headings {
		if h.Level == 1 {
			h1s++
		}
		if prev > 0 && h.Level > prev+1 {
			r.Warnings = append(r.Warnings, audit.CheckFinding{
				Rule:        "heading-skip",
				CriterionID: "1.3.1",
				Message:     fmt.Sprintf("heading level jumps from h%d to h%d", prev, h.Level),
				PageURL:     p.URL,
				Severity:    "medium",
			})
		}
		prev = h.Level
	}
	if h1s == 0 && len(p.Headings) > 0 {
		r.Warnings = append(r.Warnings, audit.CheckFinding{
			Rule:        "h1-missing",
			CriterionID: "2.4.6",
			Message:     "page has headings but no h1",
			PageURL:     p.URL,
			Severity:    "medium",
		})
	}
}

func checkLinks(p snapshot.PageModel, r *audit.CheckResult) {
	for _, l := range p.Links {
		if l.Text == "" && l.AriaLabel == "" && l.TitleAttr == "" {
			r.Violations = append(r.Violations, audit.CheckFinding{
				Rule:        "link-name-missing",
				CriterionID: "2.4.4",
				Message:     "link has no accessible name",
				Element:     elementRef("a", l.Href),
				PageURL:     p.URL,
				Severity:    "high",
			})
			continue
		}
		if l.IsGeneric {
			r.Warnings = append(r.Warnings, audit.CheckFinding{
				Rule:        "link-text-generic",
				CriterionID: "2.4.4",
				Message:     fmt.Sprintf("link text %q does not describe its target", l.Text),
				Element:     elementRef("a", l.Href),
				PageURL:     p.URL,
				Severity:    "low",
			})
		}
	}
}

func checkLandmarks(p snapshot.PageModel, r *audit.CheckResult) {
	hasMain := false
	for _, lm := range p.Landmarks {
		if lm.Tag == "main" || lm.Role == "main" {
			hasMain = true
		}
	}
	if !hasMain {
		r.Warnings = append(r.Warnings, audit.CheckFinding{
			Rule:        "main-landmark-missing",
			CriterionID: "1.3.1",
			Message:     "page has no main landmark",
			PageURL:     p.URL,
			Severity:    "low",
		})
		return
	}
	r.Passes = append(r.Passes, audit.CheckFinding{
		Rule:    "main-landmark-missing",
		PageURL: p.URL,
		Message: "page exposes a main landmark",
	})
}

func checkSkipLinks(p snapshot.PageModel, r *audit.CheckResult) {
	for _, l := range p.Links {
		if l.IsSkipLink {
			r.Passes = append(r.Passes, audit.CheckFinding{
				Rule:    "skip-link-missing",
				PageURL: p.URL,
				Message: "skip link present",
			})
			return
		}
	}
	r.Warnings = append(r.Warnings, audit.CheckFinding{
		Rule:        "skip-link-missing",
		CriterionID: "2.4.1",
		Message:     "no skip link found near the top of the page",
		PageURL:     p.URL,
		Severity:    "low",
	})
}

func elementRef(tag, detail string) string {
	if detail == "" {
		return tag
	}
	return fmt.Sprintf("%s[%s]", tag, detail)
}
