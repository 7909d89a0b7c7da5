package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRules reads keyword sets from a YAML file. Fields left empty in
// the file keep the built-in defaults, so operators can override one
// set without restating the rest.
func LoadRules(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("classify rules %s: %w", path, err)
	}
	var loaded Rules
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return Rules{}, fmt.Errorf("classify rules %s: %w", path, err)
	}
	return mergeWithDefaults(loaded), nil
}

func mergeWithDefaults(r Rules) Rules {
	def := DefaultRules()
	if len(r.Extensions) == 0 {
		r.Extensions = def.Extensions
	}
	if len(r.ReplyExtensions) == 0 {
		r.ReplyExtensions = def.ReplyExtensions
	}
	if len(r.CheckerKeywords) == 0 {
		r.CheckerKeywords = def.CheckerKeywords
	}
	if len(r.PaymentKeywords) == 0 {
		r.PaymentKeywords = def.PaymentKeywords
	}
	if len(r.CompletedMarkers) == 0 {
		r.CompletedMarkers = def.CompletedMarkers
	}
	if len(r.LinkOnlyMarkers) == 0 {
		r.LinkOnlyMarkers = def.LinkOnlyMarkers
	}
	if len(r.RewriteMarkers) == 0 {
		r.RewriteMarkers = def.RewriteMarkers
	}
	return r
}
