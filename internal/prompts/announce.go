// Package prompts holds the text-transformation templates sent to
// conversation agents. Templates reference {language} and {message}
// placeholders; configured overrides replace the built-in defaults.
package prompts

import "strings"

// Built-in templates. Each instructs the agent to return only the
// result so the reply can be spoken verbatim.
const (
	defaultTranslate = `Translate this announcement to {language}. Return only the translated announcement, no explanations or confirmations. Keep who it's addressed to. Message: "{message}"`

	defaultEnhance = `Rephrase this announcement to be more engaging. Return only the new announcement, no explanations or confirmations. Keep who it's addressed to. Message: "{message}"`

	// The combined template handles enhance-then-translate in a single
	// agent call so a partial failure cannot leave the message half
	// transformed.
	defaultBoth = `Translate this announcement to {language} and make it more engaging. Return only the result, no explanations or confirmations. Keep who it's addressed to. Message: "{message}"`
)

// Templates is the resolved set of transformation templates.
type Templates struct {
	Translate string
	Enhance   string
	Both      string
}

// NewTemplates returns the template set, substituting built-in
// defaults for any empty override.
func NewTemplates(translate, enhance, both string) Templates {
	t := Templates{
		Translate: translate,
		Enhance:   enhance,
		Both:      both,
	}
	if t.Translate == "" {
		t.Translate = defaultTranslate
	}
	if t.Enhance == "" {
		t.Enhance = defaultEnhance
	}
	if t.Both == "" {
		t.Both = defaultBoth
	}
	return t
}

// Render interpolates the language and message into a template.
func Render(template, language, message string) string {
	out := strings.ReplaceAll(template, "{language}", language)
	return strings.ReplaceAll(out, "{message}", message)
}
