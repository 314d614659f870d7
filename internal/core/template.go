package core

import (
	"encoding/json"
	"regexp"
	"sort"
)

// varPattern matches {{name}} placeholders. No expressions, no escaping.
var varPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// ExtractVariables returns the deduplicated, sorted set of placeholder names
// in a template string.
func ExtractVariables(template string) []string {
	seen := map[string]struct{}{}
	for _, m := range varPattern.FindAllStringSubmatch(template, -1) {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExtractMessageVariables returns the deduplicated, sorted set of placeholder
// names across all message contents.
func ExtractMessageVariables(msgs []Message) []string {
	seen := map[string]struct{}{}
	for _, msg := range msgs {
		for _, m := range varPattern.FindAllStringSubmatch(msg.Content, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidateVariables computes required - provided. Extra provided keys are
// allowed.
func ValidateVariables(required []string, provided map[string]any) (bool, []string) {
	var missing []string
	for _, name := range required {
		if _, ok := provided[name]; !ok {
			missing = append(missing, name)
		}
	}
	return len(missing) == 0, missing
}

// CompileTemplate substitutes every {{k}} occurrence with the string form of
// vars[k]. Substitution is a single pass over the original template: a
// replacement value that itself contains {{...}} is not re-expanded.
// Placeholders without a provided value are left intact.
func CompileTemplate(template string, vars map[string]any) string {
	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[2 : len(match)-2]
		value, ok := vars[name]
		if !ok {
			return match
		}
		return renderValue(value)
	})
}

// CompileMessages applies CompileTemplate to each content, preserving role
// and order.
func CompileMessages(msgs []Message, vars map[string]any) []Message {
	compiled := make([]Message, len(msgs))
	for i, msg := range msgs {
		compiled[i] = Message{Role: msg.Role, Content: CompileTemplate(msg.Content, vars)}
	}
	return compiled
}

// renderValue converts a variable value to its substitution text: strings
// verbatim, everything else as canonical JSON.
func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// DryRunResult is the outcome of a no-side-effect template compilation.
// When IsValid is false the compiled field is absent.
type DryRunResult struct {
	Type              TemplateType `json:"type"`
	CompiledText      *string      `json:"compiled_text,omitempty"`
	CompiledMessages  []Message    `json:"compiled_messages,omitempty"`
	RequiredVariables []string     `json:"required_variables"`
	ProvidedVariables []string     `json:"provided_variables"`
	MissingVariables  []string     `json:"missing_variables"`
	IsValid           bool         `json:"is_valid"`
}

// DryRun validates and compiles a template without touching a model. The API
// exposes it as a preview; the worker uses it to surface a deterministic
// missing-variables failure without consuming model quota.
func DryRun(templateType TemplateType, text string, msgs []Message, vars map[string]any) DryRunResult {
	provided := make([]string, 0, len(vars))
	for name := range vars {
		provided = append(provided, name)
	}
	sort.Strings(provided)

	if templateType == TemplateChat && len(msgs) > 0 {
		required := ExtractMessageVariables(msgs)
		ok, missing := ValidateVariables(required, vars)
		result := DryRunResult{
			Type:              TemplateChat,
			RequiredVariables: required,
			ProvidedVariables: provided,
			MissingVariables:  missing,
			IsValid:           ok,
		}
		if ok {
			result.CompiledMessages = CompileMessages(msgs, vars)
		}
		return result
	}

	required := ExtractVariables(text)
	ok, missing := ValidateVariables(required, vars)
	result := DryRunResult{
		Type:              TemplateText,
		RequiredVariables: required,
		ProvidedVariables: provided,
		MissingVariables:  missing,
		IsValid:           ok,
	}
	if ok {
		compiled := CompileTemplate(text, vars)
		result.CompiledText = &compiled
	}
	return result
}

// RequestMessages converts a dry-run result into the message list sent to a
// model: chat templates pass through, text templates become a single user
// message.
func (r DryRunResult) RequestMessages() []Message {
	if r.Type == TemplateChat {
		return r.CompiledMessages
	}
	var content string
	if r.CompiledText != nil {
		content = *r.CompiledText
	}
	return []Message{{Role: RoleUser, Content: content}}
}
