// Package snapshot normalizes crawled HTML into a structural model and
// derives the per-axis projections handed to the analysis prompts.
package snapshot

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/inclusa/wcag-audit/internal/audit"
)

// Snapshot is the parsed site model. It is plain data; no parsed document
// handles survive extraction.
type Snapshot struct {
	RootURL string      `json:"root_url"`
	Pages   []PageModel `json:"pages"`
}

// PageModel is the structural model of one fetched page.
type PageModel struct {
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	Lang         string     `json:"lang"`
	Headings     []Heading  `json:"headings"`
	Images       []Image    `json:"images"`
	Media        []Media    `json:"media"`
	Links        []Link     `json:"links"`
	Landmarks    []Landmark `json:"landmarks"`
	Forms        []Form     `json:"forms"`
	Tables       []Table    `json:"tables"`
	Lists        ListStats  `json:"lists"`
	Tabindexes   []Tabindex `json:"tabindexes"`
	LangSwitches []LangSpan `json:"lang_switches"`
	DuplicateIDs []string   `json:"duplicate_ids"`
	Styling      Styling    `json:"styling"`
	Behavior     Behavior   `json:"behavior"`
	MetaRefresh  string     `json:"meta_refresh,omitempty"`
	Viewport     string     `json:"viewport,omitempty"`
}

// Heading is one h1..h6 element in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Image covers <img>, <svg role=img>, <object> and recognized icon fonts.
type Image struct {
	Tag            string `json:"tag"`
	Src            string `json:"src,omitempty"`
	Alt            string `json:"alt"`
	HasAlt         bool   `json:"has_alt"`
	Role           string `json:"role,omitempty"`
	AriaLabel      string `json:"aria_label,omitempty"`
	AriaDescribedy string `json:"aria_describedby,omitempty"`
	Title          string `json:"title,omitempty"`
	IsIcon         bool   `json:"is_icon"`
	IsCaptcha      bool   `json:"is_captcha"`
	Context        string `json:"context,omitempty"`
}

// Media covers <video>, <audio> and recognized video embed iframes.
type Media struct {
	Tag        string   `json:"tag"`
	Src        string   `json:"src,omitempty"`
	Provider   string   `json:"provider,omitempty"`
	Autoplay   bool     `json:"autoplay"`
	Controls   bool     `json:"controls"`
	Loop       bool     `json:"loop"`
	Muted      bool     `json:"muted"`
	TrackKinds []string `json:"track_kinds,omitempty"`
	Title      string   `json:"title,omitempty"`
}

// Link is one anchor with resolved accessibility naming.
type Link struct {
	Href       string `json:"href"`
	Text       string `json:"text"`
	AriaLabel  string `json:"aria_label,omitempty"`
	TitleAttr  string `json:"title,omitempty"`
	TargetNew  bool   `json:"opens_new_window"`
	IsSkipLink bool   `json:"is_skip_link"`
	IsGeneric  bool   `json:"is_generic_text"`
}

// Landmark is a sectioning element or explicit landmark role.
type Landmark struct {
	Tag   string `json:"tag"`
	Role  string `json:"role,omitempty"`
	Label string `json:"label,omitempty"`
}

// Form groups the fields of one <form>.
type Form struct {
	Action          string   `json:"action,omitempty"`
	Method          string   `json:"method"`
	Fields          []Field  `json:"fields"`
	HasFieldset     bool     `json:"has_fieldset"`
	HasSubmit       bool     `json:"has_submit"`
	FieldsetLegends []string `json:"fieldset_legends,omitempty"`
}

// Field is one input, select or textarea with its label binding.
type Field struct {
	Tag          string `json:"tag"`
	Type         string `json:"type,omitempty"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Label        string `json:"label,omitempty"`
	HasLabel     bool   `json:"has_label"`
	AriaLabel    string `json:"aria_label,omitempty"`
	DescribedBy  string `json:"aria_describedby,omitempty"`
	Placeholder  string `json:"placeholder,omitempty"`
	Required     bool   `json:"required"`
	Autocomplete string `json:"autocomplete,omitempty"`
	EmptySrc     bool   `json:"empty_src,omitempty"`
}

// Table summarizes header and caption usage of one <table>.
type Table struct {
	HasCaption  bool `json:"has_caption"`
	HeaderCells int  `json:"header_cells"`
	HasScope    bool `json:"has_scope"`
	Rows        int  `json:"rows"`
}

// ListStats counts list structures.
type ListStats struct {
	Ordered     int `json:"ordered"`
	Unordered   int `json:"unordered"`
	Description int `json:"description"`
}

// Tabindex records an explicit tabindex attribute.
type Tabindex struct {
	Element string `json:"element"`
	Value   string `json:"value"`
}

// LangSpan records an element-level language switch.
type LangSpan struct {
	Element string `json:"element"`
	Lang    string `json:"lang"`
	Text    string `json:"text,omitempty"`
}

// Styling collects statically determinable presentation hints.
type Styling struct {
	InlineColorPairs []ColorPair `json:"inline_color_pairs,omitempty"`
	RelativeFontUses int         `json:"relative_font_uses"`
	AbsoluteFontUses int         `json:"absolute_font_uses"`
	FocusStyleHints  bool        `json:"focus_style_hints"`
	StylesheetCount  int         `json:"stylesheet_count"`
}

// ColorPair is a statically visible text/background combination.
type ColorPair struct {
	Color      string `json:"color"`
	Background string `json:"background"`
	Element    string `json:"element"`
}

// Behavior collects script-driven interaction hints.
type Behavior struct {
	MouseOnlyHandlers int  `json:"mouse_only_handlers"`
	KeyboardHandlers  int  `json:"keyboard_handlers"`
	BlinkOrMarquee    bool `json:"blink_or_marquee"`
	AnimatedGifs      int  `json:"animated_gifs"`
	TimersDetected    bool `json:"timers_detected"`
}

var genericLinkTexts = map[string]bool{
	"click here": true, "here": true, "read more": true, "more": true,
	"link": true, "hier klicken": true, "mehr": true, "weiterlesen": true,
	"mehr erfahren": true, "learn more": true,
}

// Extract parses every successfully fetched page into the site model.
// Pages that failed to fetch or fail to parse are skipped.
func Extract(crawl audit.CrawlResult) (*Snapshot, error) {
	snap := &Snapshot{RootURL: crawl.RootURL}
	for _, p := range crawl.Pages {
		if p.ErrorText != "" || p.HTML == "" {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
		if err != nil {
			continue
		}
		snap.Pages = append(snap.Pages, extractPage(p.URL, doc))
	}
	if len(snap.Pages) == 0 {
		return nil, fmt.Errorf("no parseable pages in crawl of %s", crawl.RootURL)
	}
	return snap, nil
}

func extractPage(pageURL string, doc *goquery.Document) PageModel {
	pm := PageModel{
		URL:   pageURL,
		Title: clean(doc.Find("head title").First().Text()),
		Lang:  attr(doc.Find("html").First(), "lang"),
	}
	pm.Headings = extractHeadings(doc)
	pm.Images = extractImages(doc)
	pm.Media = extractMedia(doc)
	pm.Links = extractLinks(doc)
	pm.Landmarks = extractLandmarks(doc)
	pm.Forms = extractForms(doc)
	pm.Tables = extractTables(doc)
	pm.Lists = ListStats{
		Ordered:     doc.Find("ol").Length(),
		Unordered:   doc.Find("ul").Length(),
		Description: doc.Find("dl").Length(),
	}
	pm.Tabindexes = extractTabindexes(doc)
	pm.LangSwitches = extractLangSwitches(doc, pm.Lang)
	pm.DuplicateIDs = findDuplicateIDs(doc)
	pm.Styling = extractStyling(doc)
	pm.Behavior = extractBehavior(doc)
	pm.MetaRefresh = attr(doc.Find(`meta[http-equiv="refresh"], meta[http-equiv="Refresh"]`).First(), "content")
	pm.Viewport = attr(doc.Find(`meta[name="viewport"]`).First(), "content")
	return pm
}

func extractHeadings(doc *goquery.Document) []Heading {
	var out []Heading
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		out = append(out, Heading{
			Level: int(goquery.NodeName(s)[1] - '0'),
			Text:  clean(s.Text()),
		})
	})
	return out
}

func extractImages(doc *goquery.Document) []Image {
	var out []Image
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		alt, hasAlt := s.Attr("alt")
		src := attr(s, "src")
		img := Image{
			Tag:            "img",
			Src:            src,
			Alt:            clean(alt),
			HasAlt:         hasAlt,
			Role:           attr(s, "role"),
			AriaLabel:      attr(s, "aria-label"),
			AriaDescribedy: attr(s, "aria-describedby"),
			Title:          attr(s, "title"),
		}
		img.IsIcon = looksLikeIcon(src, img.Alt)
		img.IsCaptcha = looksLikeCaptcha(src, img.Alt, img.Title)
		img.Context = clean(s.Parent().Text())
		if len(img.Context) > 120 {
			img.Context = img.Context[:120]
		}
		out = append(out, img)
	})
	doc.Find(`svg[role="img"]`).Each(func(_ int, s *goquery.Selection) {
		out = append(out, Image{
			Tag:       "svg",
			Role:      "img",
			AriaLabel: attr(s, "aria-label"),
			Alt:       clean(s.Find("title").First().Text()),
			HasAlt:    s.Find("title").Length() > 0,
		})
	})
	doc.Find("object[data]").Each(func(_ int, s *goquery.Selection) {
		out = append(out, Image{
			Tag:       "object",
			Src:       attr(s, "data"),
			Role:      attr(s, "role"),
			AriaLabel: attr(s, "aria-label"),
			Alt:       clean(s.Text()),
			HasAlt:    clean(s.Text()) != "",
		})
	})
	// Icon fonts by convention: empty elements with icon classes.
	doc.Find("i[class], span[class]").Each(func(_ int, s *goquery.Selection) {
		class := attr(s, "class")
		if clean(s.Text()) != "" || (!strings.Contains(class, "icon") && !strings.Contains(class, "fa-")) {
			return
		}
		out = append(out, Image{
			Tag:       goquery.NodeName(s),
			Role:      attr(s, "role"),
			AriaLabel: attr(s, "aria-label"),
			HasAlt:    attr(s, "aria-label") != "",
			Alt:       attr(s, "aria-label"),
			IsIcon:    true,
			Src:       class,
		})
	})
	return out
}

var embedProviders = map[string]string{
	"youtube.com":      "youtube",
	"youtube-nocookie": "youtube",
	"youtu.be":         "youtube",
	"vimeo.com":        "vimeo",
	"dailymotion.com":  "dailymotion",
	"wistia":           "wistia",
	"twitch.tv":        "twitch",
}

func extractMedia(doc *goquery.Document) []Media {
	var out []Media
	doc.Find("video, audio").Each(func(_ int, s *goquery.Selection) {
		m := Media{
			Tag:      goquery.NodeName(s),
			Src:      firstNonEmpty(attr(s, "src"), attr(s.Find("source").First(), "src")),
			Autoplay: hasAttr(s, "autoplay"),
			Controls: hasAttr(s, "controls"),
			Loop:     hasAttr(s, "loop"),
			Muted:    hasAttr(s, "muted"),
			Title:    attr(s, "title"),
		}
		s.Find("track").Each(func(_ int, tr *goquery.Selection) {
			kind := attr(tr, "kind")
			if kind == "" {
				kind = "subtitles"
			}
			m.TrackKinds = append(m.TrackKinds, kind)
		})
		out = append(out, m)
	})
	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src := attr(s, "src")
		for marker, provider := range embedProviders {
			if strings.Contains(src, marker) {
				out = append(out, Media{
					Tag:      "iframe",
					Src:      src,
					Provider: provider,
					Title:    attr(s, "title"),
					Autoplay: strings.Contains(src, "autoplay=1"),
				})
				break
			}
		}
	})
	return out
}

func extractLinks(doc *goquery.Document) []Link {
	var out []Link
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href := attr(s, "href")
		text := clean(s.Text())
		if text == "" {
			text = clean(attr(s.Find("img").First(), "alt"))
		}
		l := Link{
			Href:      href,
			Text:      text,
			AriaLabel: attr(s, "aria-label"),
			TitleAttr: attr(s, "title"),
			TargetNew: attr(s, "target") == "_blank",
			IsGeneric: genericLinkTexts[strings.ToLower(text)],
		}
		l.IsSkipLink = i < 3 && strings.HasPrefix(href, "#") &&
			(strings.Contains(strings.ToLower(text), "skip") || strings.Contains(strings.ToLower(text), "zum inhalt") || strings.Contains(strings.ToLower(text), "springen"))
		out = append(out, l)
	})
	return out
}

var landmarkTags = []string{"header", "nav", "main", "footer", "aside", "form[role]", `[role="banner"]`, `[role="navigation"]`, `[role="main"]`, `[role="contentinfo"]`, `[role="complementary"]`, `[role="search"]`}

func extractLandmarks(doc *goquery.Document) []Landmark {
	var out []Landmark
	seen := map[*html.Node]bool{}
	for _, sel := range landmarkTags {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			if seen[node] {
				return
			}
			seen[node] = true
			out = append(out, Landmark{
				Tag:   goquery.NodeName(s),
				Role:  attr(s, "role"),
				Label: firstNonEmpty(attr(s, "aria-label"), attr(s, "aria-labelledby")),
			})
		})
	}
	return out
}

func extractForms(doc *goquery.Document) []Form {
	labelFor := map[string]string{}
	doc.Find("label[for]").Each(func(_ int, s *goquery.Selection) {
		labelFor[attr(s, "for")] = clean(s.Text())
	})

	var out []Form
	doc.Find("form").Each(func(_ int, f *goquery.Selection) {
		form := Form{
			Action:      attr(f, "action"),
			Method:      strings.ToUpper(firstNonEmpty(attr(f, "method"), "get")),
			HasFieldset: f.Find("fieldset").Length() > 0,
			HasSubmit:   f.Find(`[type="submit"], button:not([type="button"])`).Length() > 0,
		}
		f.Find("fieldset legend").Each(func(_ int, lg *goquery.Selection) {
			form.FieldsetLegends = append(form.FieldsetLegends, clean(lg.Text()))
		})
		f.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
			typ := strings.ToLower(attr(s, "type"))
			if typ == "hidden" || typ == "submit" || typ == "button" {
				return
			}
			id := attr(s, "id")
			field := Field{
				Tag:          goquery.NodeName(s),
				Type:         typ,
				ID:           id,
				Name:         attr(s, "name"),
				Label:        labelFor[id],
				AriaLabel:    attr(s, "aria-label"),
				DescribedBy:  attr(s, "aria-describedby"),
				Placeholder:  attr(s, "placeholder"),
				Required:     hasAttr(s, "required"),
				Autocomplete: attr(s, "autocomplete"),
			}
			if field.Label == "" && s.ParentsFiltered("label").Length() > 0 {
				field.Label = clean(s.ParentsFiltered("label").First().Text())
			}
			field.HasLabel = field.Label != "" || field.AriaLabel != "" || attr(s, "aria-labelledby") != ""
			if typ == "image" {
				field.EmptySrc = attr(s, "src") == ""
			}
			form.Fields = append(form.Fields, field)
		})
		out = append(out, form)
	})
	return out
}

func extractTables(doc *goquery.Document) []Table {
	var out []Table
	doc.Find("table").Each(func(_ int, s *goquery.Selection) {
		out = append(out, Table{
			HasCaption:  s.Find("caption").Length() > 0,
			HeaderCells: s.Find("th").Length(),
			HasScope:    s.Find("th[scope]").Length() > 0,
			Rows:        s.Find("tr").Length(),
		})
	})
	return out
}

func extractTabindexes(doc *goquery.Document) []Tabindex {
	var out []Tabindex
	doc.Find("[tabindex]").Each(func(_ int, s *goquery.Selection) {
		out = append(out, Tabindex{
			Element: goquery.NodeName(s),
			Value:   attr(s, "tabindex"),
		})
	})
	return out
}

func extractLangSwitches(doc *goquery.Document, docLang string) []LangSpan {
	var out []LangSpan
	doc.Find("body [lang]").Each(func(_ int, s *goquery.Selection) {
		lang := attr(s, "lang")
		if lang == "" || strings.EqualFold(lang, docLang) {
			return
		}
		text := clean(s.Text())
		if len(text) > 80 {
			text = text[:80]
		}
		out = append(out, LangSpan{
			Element: goquery.NodeName(s),
			Lang:    lang,
			Text:    text,
		})
	})
	return out
}

func findDuplicateIDs(doc *goquery.Document) []string {
	counts := map[string]int{}
	var order []string
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		id := attr(s, "id")
		if id == "" {
			return
		}
		if counts[id] == 1 {
			order = append(order, id)
		}
		counts[id]++
	})
	return order
}

func extractStyling(doc *goquery.Document) Styling {
	st := Styling{
		StylesheetCount: doc.Find(`link[rel="stylesheet"]`).Length(),
	}
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style := strings.ToLower(attr(s, "style"))
		var pair ColorPair
		for _, decl := range strings.Split(style, ";") {
			prop, value, ok := strings.Cut(decl, ":")
			if !ok {
				continue
			}
			prop = strings.TrimSpace(prop)
			value = strings.TrimSpace(value)
			switch prop {
			case "color":
				pair.Color = value
			case "background-color", "background":
				pair.Background = value
			case "font-size":
				if strings.HasSuffix(value, "em") || strings.HasSuffix(value, "rem") || strings.HasSuffix(value, "%") {
					st.RelativeFontUses++
				} else if strings.HasSuffix(value, "px") || strings.HasSuffix(value, "pt") {
					st.AbsoluteFontUses++
				}
			}
		}
		if pair.Color != "" && pair.Background != "" {
			pair.Element = goquery.NodeName(s)
			st.InlineColorPairs = append(st.InlineColorPairs, pair)
		}
	})
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		if strings.Contains(s.Text(), ":focus") {
			st.FocusStyleHints = true
		}
	})
	return st
}

var mouseOnlyAttrs = []string{"onmouseover", "onmouseout", "onmousedown", "onmouseup", "ondblclick"}
var keyboardAttrs = []string{"onkeydown", "onkeyup", "onkeypress"}

func extractBehavior(doc *goquery.Document) Behavior {
	var b Behavior
	for _, a := range mouseOnlyAttrs {
		b.MouseOnlyHandlers += doc.Find("[" + a + "]").Length()
	}
	for _, a := range keyboardAttrs {
		b.KeyboardHandlers += doc.Find("[" + a + "]").Length()
	}
	b.BlinkOrMarquee = doc.Find("blink, marquee").Length() > 0
	doc.Find(`img[src$=".gif"]`).Each(func(_ int, _ *goquery.Selection) {
		b.AnimatedGifs++
	})
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if strings.Contains(text, "setTimeout") || strings.Contains(text, "setInterval") {
			b.TimersDetected = true
		}
	})
	return b
}

func looksLikeIcon(src, alt string) bool {
	lower := strings.ToLower(src + " " + alt)
	for _, marker := range []string{"icon", "sprite", "bullet", "arrow", "logo-small"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func looksLikeCaptcha(src, alt, title string) bool {
	lower := strings.ToLower(src + " " + alt + " " + title)
	return strings.Contains(lower, "captcha")
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

func hasAttr(s *goquery.Selection, name string) bool {
	_, ok := s.Attr(name)
	return ok
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
