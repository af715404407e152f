package snapshot

import (
	"strings"

	"github.com/inclusa/wcag-audit/internal/audit"
)

// Slicer derives one axis-specific projection from the site model.
type Slicer func(*Snapshot) audit.Slice

// Slicers maps each analysis axis to its projection. Adding an axis means
// adding an entry here plus its prompt template; the dispatcher iterates
// this registry.
var Slicers = map[string]Slicer{
	"1_1_text_alternatives":   sliceTextAlternatives,
	"1_2_time_based_media":    sliceTimeBasedMedia,
	"1_3_adaptable":           sliceAdaptable,
	"1_4_distinguishable":     sliceDistinguishable,
	"2_1_keyboard_accessible": sliceKeyboardAccessible,
	"2_2_enough_time":         sliceEnoughTime,
	"2_3_seizures":            sliceSeizures,
	"2_4_navigable":           sliceNavigable,
	"3_1_readable":            sliceReadable,
	"3_2_predictable":         slicePredictable,
	"3_3_input_assistance":    sliceInputAssistance,
	"4_1_compatible":          sliceCompatible,
}

// SliceFor returns the projection for one axis.
func SliceFor(axisKey string, snap *Snapshot) (audit.Slice, error) {
	slicer, ok := Slicers[axisKey]
	if !ok {
		return nil, audit.Errorf(audit.CodeNotFound, "no slicer for axis %s", axisKey)
	}
	return slicer(snap), nil
}

// Base is the site context shared by every module prompt.
func Base(snap *Snapshot) audit.Slice {
	pages := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		pages = append(pages, map[string]any{
			"url":   p.URL,
			"title": p.Title,
			"lang":  p.Lang,
		})
	}
	return audit.Slice{
		"root_url":    snap.RootURL,
		"pages_count": len(snap.Pages),
		"pages":       pages,
	}
}

func sliceTextAlternatives(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	totalImages, missingAlt, captchas := 0, 0, 0
	for _, p := range snap.Pages {
		var images []map[string]any
		for _, img := range p.Images {
			totalImages++
			if !img.HasAlt && img.Role != "presentation" && img.AriaLabel == "" {
				missingAlt++
			}
			if img.IsCaptcha {
				captchas++
			}
			entry := map[string]any{
				"tag":     img.Tag,
				"src":     img.Src,
				"alt":     img.Alt,
				"has_alt": img.HasAlt,
				"is_icon": img.IsIcon,
			}
			if img.Role != "" {
				entry["role"] = img.Role
			}
			if img.AriaLabel != "" {
				entry["aria_label"] = img.AriaLabel
			}
			if img.AriaDescribedy != "" {
				entry["aria_describedby"] = img.AriaDescribedy
			}
			if img.IsCaptcha {
				entry["is_captcha"] = true
			}
			if img.Context != "" {
				entry["context"] = img.Context
			}
			images = append(images, entry)
		}
		perPage = append(perPage, map[string]any{
			"url":    p.URL,
			"images": images,
		})
	}
	return audit.Slice{
		"site":               Base(snap),
		"pages":              perPage,
		"total_images":       totalImages,
		"images_missing_alt": missingAlt,
		"captcha_images":     captchas,
	}
}

func sliceTimeBasedMedia(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	totalMedia, withCaptions, autoplaying := 0, 0, 0
	for _, p := range snap.Pages {
		var media []map[string]any
		for _, m := range p.Media {
			totalMedia++
			hasCaptions := false
			for _, kind := range m.TrackKinds {
				if kind == "captions" || kind == "subtitles" {
					hasCaptions = true
				}
			}
			if hasCaptions {
				withCaptions++
			}
			if m.Autoplay {
				autoplaying++
			}
			media = append(media, map[string]any{
				"tag":         m.Tag,
				"src":         m.Src,
				"provider":    m.Provider,
				"autoplay":    m.Autoplay,
				"controls":    m.Controls,
				"loop":        m.Loop,
				"muted":       m.Muted,
				"track_kinds": m.TrackKinds,
				"title":       m.Title,
			})
		}
		// Transcript links are a common compensation for missing tracks.
		var transcriptLinks []string
		for _, l := range p.Links {
			if containsAny(l.Text, "transcript", "transkript") {
				transcriptLinks = append(transcriptLinks, l.Href)
			}
		}
		perPage = append(perPage, map[string]any{
			"url":              p.URL,
			"media":            media,
			"transcript_links": transcriptLinks,
		})
	}
	return audit.Slice{
		"site":                Base(snap),
		"pages":               perPage,
		"total_media":         totalMedia,
		"media_with_captions": withCaptions,
		"autoplaying_media":   autoplaying,
	}
}

func sliceAdaptable(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		var forms []map[string]any
		for _, f := range p.Forms {
			forms = append(forms, map[string]any{
				"has_fieldset":     f.HasFieldset,
				"fieldset_legends": f.FieldsetLegends,
				"fields_total":     len(f.Fields),
				"fields_labelled":  countLabelled(f.Fields),
			})
		}
		perPage = append(perPage, map[string]any{
			"url":            p.URL,
			"headings":       p.Headings,
			"heading_issues": headingIssues(p.Headings),
			"landmarks":      p.Landmarks,
			"tables":         p.Tables,
			"lists":          p.Lists,
			"forms":          forms,
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

func sliceDistinguishable(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		perPage = append(perPage, map[string]any{
			"url":                p.URL,
			"inline_color_pairs": p.Styling.InlineColorPairs,
			"relative_font_uses": p.Styling.RelativeFontUses,
			"absolute_font_uses": p.Styling.AbsoluteFontUses,
			"focus_style_hints":  p.Styling.FocusStyleHints,
			"stylesheet_count":   p.Styling.StylesheetCount,
			"viewport":           p.Viewport,
			"autoplaying_media":  countAutoplay(p.Media),
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

func sliceKeyboardAccessible(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		positiveTabindex := 0
		for _, ti := range p.Tabindexes {
			if ti.Value != "0" && ti.Value != "-1" {
				positiveTabindex++
			}
		}
		perPage = append(perPage, map[string]any{
			"url":                 p.URL,
			"tabindexes":          p.Tabindexes,
			"positive_tabindexes": positiveTabindex,
			"mouse_only_handlers": p.Behavior.MouseOnlyHandlers,
			"keyboard_handlers":   p.Behavior.KeyboardHandlers,
			"skip_links":          skipLinks(p.Links),
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

func sliceEnoughTime(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		perPage = append(perPage, map[string]any{
			"url":             p.URL,
			"meta_refresh":    p.MetaRefresh,
			"timers_detected": p.Behavior.TimersDetected,
			"marquee_blink":   p.Behavior.BlinkOrMarquee,
			"autoplay_loops":  countAutoplayLoops(p.Media),
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

func sliceSeizures(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		perPage = append(perPage, map[string]any{
			"url":             p.URL,
			"animated_gifs":   p.Behavior.AnimatedGifs,
			"marquee_blink":   p.Behavior.BlinkOrMarquee,
			"autoplay_videos": countAutoplay(p.Media),
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

func sliceNavigable(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		var links []map[string]any
		generic := 0
		for _, l := range p.Links {
			if l.IsGeneric {
				generic++
			}
			links = append(links, map[string]any{
				"href":             l.Href,
				"text":             l.Text,
				"aria_label":       l.AriaLabel,
				"opens_new_window": l.TargetNew,
				"is_generic":       l.IsGeneric,
			})
		}
		perPage = append(perPage, map[string]any{
			"url":           p.URL,
			"title":         p.Title,
			"headings":      p.Headings,
			"landmarks":     p.Landmarks,
			"links":         links,
			"generic_links": generic,
			"skip_links":    skipLinks(p.Links),
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

func sliceReadable(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		perPage = append(perPage, map[string]any{
			"url":           p.URL,
			"lang":          p.Lang,
			"lang_switches": p.LangSwitches,
			"title":         p.Title,
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

func slicePredictable(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		newWindowLinks := 0
		for _, l := range p.Links {
			if l.TargetNew {
				newWindowLinks++
			}
		}
		var forms []map[string]any
		for _, f := range p.Forms {
			forms = append(forms, map[string]any{
				"action":     f.Action,
				"method":     f.Method,
				"has_submit": f.HasSubmit,
			})
		}
		perPage = append(perPage, map[string]any{
			"url":              p.URL,
			"landmarks":        p.Landmarks,
			"new_window_links": newWindowLinks,
			"forms":            forms,
			"meta_refresh":     p.MetaRefresh,
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

func sliceInputAssistance(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		var forms []map[string]any
		for _, f := range p.Forms {
			var fields []map[string]any
			for _, fl := range f.Fields {
				fields = append(fields, map[string]any{
					"tag":              fl.Tag,
					"type":             fl.Type,
					"name":             fl.Name,
					"label":            fl.Label,
					"has_label":        fl.HasLabel,
					"aria_label":       fl.AriaLabel,
					"aria_describedby": fl.DescribedBy,
					"placeholder":      fl.Placeholder,
					"required":         fl.Required,
					"autocomplete":     fl.Autocomplete,
				})
			}
			forms = append(forms, map[string]any{
				"action":     f.Action,
				"method":     f.Method,
				"fields":     fields,
				"has_submit": f.HasSubmit,
			})
		}
		perPage = append(perPage, map[string]any{
			"url":   p.URL,
			"forms": forms,
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

func sliceCompatible(snap *Snapshot) audit.Slice {
	perPage := make([]map[string]any, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		perPage = append(perPage, map[string]any{
			"url":           p.URL,
			"duplicate_ids": p.DuplicateIDs,
			"landmarks":     p.Landmarks,
			"tabindexes":    p.Tabindexes,
			"lang":          p.Lang,
		})
	}
	return audit.Slice{
		"site":  Base(snap),
		"pages": perPage,
	}
}

// headingIssues lists ordering problems in a heading sequence: a missing
// h1, multiple h1s, or a level skipped on the way down.
func headingIssues(headings []Heading) []string {
	var issues []string
	h1s := 0
	prev := 0
	for _, h := range headings {
		if h.Level == 1 {
			h1s++
		}
		if prev > 0 && h.Level > prev+1 {
			issues = append(issues, "level skip")
		}
		prev = h.Level
	}
	if h1s == 0 && len(headings) > 0 {
		issues = append(issues, "no h1")
	}
	if h1s > 1 {
		issues = append(issues, "multiple h1")
	}
	return issues
}

func countLabelled(fields []Field) int {
	n := 0
	for _, f := range fields {
		if f.HasLabel {
			n++
		}
	}
	return n
}

func countAutoplay(media []Media) int {
	n := 0
	for _, m := range media {
		if m.Autoplay {
			n++
		}
	}
	return n
}

func countAutoplayLoops(media []Media) int {
	n := 0
	for _, m := range media {
		if m.Autoplay && m.Loop {
			n++
		}
	}
	return n
}

func skipLinks(links []Link) []string {
	var out []string
	for _, l := range links {
		if l.IsSkipLink {
			out = append(out, l.Href)
		}
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
