// Package classify decides what to do with an inbound document based
// on its filename and optional caption. The decision is a pure
// function of the inputs and the configured keyword sets.
package classify

import "strings"

// Route is the destination chosen for a document.
type Route int

const (
	// RouteIgnore: not a candidate document (extension not accepted).
	RouteIgnore Route = iota
	// RouteDrop: payment/receipt artifact, silently discarded.
	RouteDrop
	// RouteChecker: forwarded to the automated checker bot.
	RouteChecker
	// RouteEditor: forwarded to the human editor.
	RouteEditor
)

func (r Route) String() string {
	switch r {
	case RouteIgnore:
		return "ignore"
	case RouteDrop:
		return "drop"
	case RouteChecker:
		return "checker"
	case RouteEditor:
		return "editor"
	default:
		return "unknown"
	}
}

// Rules holds the keyword sets driving classification. All matching
// is case-insensitive substring containment on the filename.
type Rules struct {
	// Extensions accepted for author documents.
	Extensions []string `yaml:"extensions"`
	// ReplyExtensions accepted for editor replies (superset of
	// Extensions in practice).
	ReplyExtensions []string `yaml:"reply_extensions"`
	// CheckerKeywords mark a document for the automated checker.
	CheckerKeywords []string `yaml:"checker_keywords"`
	// PaymentKeywords mark a financial artifact to drop.
	PaymentKeywords []string `yaml:"payment_keywords"`
	// CompletedMarkers exempt a filename from the payment drop.
	CompletedMarkers []string `yaml:"completed_markers"`
	// LinkOnlyMarkers in a caption make the checker flow forward the
	// raw report link instead of the resolved artifact.
	LinkOnlyMarkers []string `yaml:"link_only_markers"`
	// RewriteMarkers make the resolved report carry the link as its
	// caption.
	RewriteMarkers []string `yaml:"rewrite_markers"`
}

// DefaultRules returns the built-in keyword sets.
func DefaultRules() Rules {
	return Rules{
		Extensions:       []string{".pdf", ".rtf", ".doc", ".docx"},
		ReplyExtensions:  []string{".pdf", ".rtf", ".doc", ".docx", ".txt"},
		CheckerKeywords:  []string{"ад", "а.д.", "анти", "рерайт"},
		PaymentKeywords:  []string{"payment", "receipt", "document", "документ", "пэймент"},
		CompletedMarkers: []string{"выполнен"},
		LinkOnlyMarkers:  []string{"ссылкой"},
		RewriteMarkers:   []string{"рерайт"},
	}
}

// Classify routes one document. Decision order: unaccepted extension
// wins, then the payment drop (unless a completed marker is present),
// then the checker keywords, else the editor.
func (r Rules) Classify(filename, caption string) Route {
	_ = caption // routing is filename-driven; captions only flag checker options
	name := strings.ToLower(filename)
	if !containsAny(name, r.Extensions) {
		return RouteIgnore
	}
	if containsAny(name, r.PaymentKeywords) && !containsAny(name, r.CompletedMarkers) {
		return RouteDrop
	}
	if containsAny(name, r.CheckerKeywords) {
		return RouteChecker
	}
	return RouteEditor
}

// AcceptsReply reports whether an editor reply filename carries one
// of the accepted reply extensions.
func (r Rules) AcceptsReply(filename string) bool {
	return containsAny(strings.ToLower(filename), r.ReplyExtensions)
}

// LinkOnly reports whether the caption asks for the raw report link.
func (r Rules) LinkOnly(caption string) bool {
	return containsAny(strings.ToLower(caption), r.LinkOnlyMarkers)
}

// RewriteReport reports whether the resolved report should carry the
// report link as its caption.
func (r Rules) RewriteReport(filename, caption string) bool {
	if strings.TrimSpace(caption) == "" {
		return false
	}
	return containsAny(strings.ToLower(filename), r.RewriteMarkers)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
