package core

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Assertion type names. The evaluator set is closed: adding a kind means
// adding a case to evaluateAssertion.
const (
	AssertExactMatch = "exact_match"
	AssertContains   = "contains"
	AssertRegex      = "regex"
	AssertJSONValid  = "json_valid"
	AssertJSONSchema = "json_schema"
	AssertLength     = "length"
)

// RunAssertions evaluates every assertion against one output and aggregates
// the verdicts: pass iff all passed, score is the mean assertion score. An
// empty list passes with score 1. Unknown types fail their own assertion but
// never abort the batch.
func RunAssertions(output string, expected any, assertions []Assertion) Grading {
	if len(assertions) == 0 {
		return Grading{Pass: true, Score: 1.0, Reason: "No assertions defined", Assertions: []AssertionResult{}}
	}

	results := make([]AssertionResult, 0, len(assertions))
	for _, a := range assertions {
		results = append(results, evaluateAssertion(output, expected, a))
	}

	allPassed := true
	failed := 0
	var scoreSum float64
	for _, r := range results {
		scoreSum += r.Score
		if !r.Passed {
			allPassed = false
			failed++
		}
	}

	reason := "All assertions passed"
	if !allPassed {
		reason = fmt.Sprintf("%d of %d assertions failed", failed, len(results))
	}
	return Grading{
		Pass:       allPassed,
		Score:      scoreSum / float64(len(results)),
		Reason:     reason,
		Assertions: results,
	}
}

func evaluateAssertion(output string, expected any, a Assertion) AssertionResult {
	switch a.Type {
	case AssertExactMatch:
		return evalExactMatch(output, expected, a.Config)
	case AssertContains:
		return evalContains(output, expected, a.Config)
	case AssertRegex:
		return evalRegex(output, a.Config)
	case AssertJSONValid:
		return evalJSONValid(output)
	case AssertJSONSchema:
		return evalJSONSchema(output, a.Config)
	case AssertLength:
		return evalLength(output, a.Config)
	default:
		return AssertionResult{
			Type:   a.Type,
			Passed: false,
			Score:  0,
			Reason: fmt.Sprintf("Unknown assertion type: %s", a.Type),
		}
	}
}

func evalExactMatch(output string, expected any, config map[string]any) AssertionResult {
	if expected == nil {
		return AssertionResult{Type: AssertExactMatch, Passed: false, Score: 0, Reason: "No expected output provided"}
	}
	expectedStr := renderValue(expected)
	passed := output == expectedStr
	if !configBool(config, "case_sensitive", true) {
		passed = strings.EqualFold(output, expectedStr)
	}
	reason := "Output matches expected"
	if !passed {
		reason = "Output does not match expected"
	}
	return AssertionResult{Type: AssertExactMatch, Passed: passed, Score: boolScore(passed), Reason: reason}
}

func evalContains(output string, expected any, config map[string]any) AssertionResult {
	substring, ok := config["substring"]
	if !ok || substring == nil {
		substring = expected
	}
	if substring == nil {
		return AssertionResult{Type: AssertContains, Passed: false, Score: 0, Reason: "No substring to check"}
	}
	sub := renderValue(substring)
	var passed bool
	if configBool(config, "case_sensitive", true) {
		passed = strings.Contains(output, sub)
	} else {
		passed = strings.Contains(strings.ToLower(output), strings.ToLower(sub))
	}
	verb := "contains"
	if !passed {
		verb = "does not contain"
	}
	return AssertionResult{
		Type:   AssertContains,
		Passed: passed,
		Score:  boolScore(passed),
		Reason: fmt.Sprintf("Output %s %q", verb, sub),
	}
}

func evalRegex(output string, config map[string]any) AssertionResult {
	pattern := configString(config, "pattern", "")
	expr := pattern
	if !configBool(config, "case_sensitive", true) {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		// A bad pattern fails the assertion, never the run.
		return AssertionResult{Type: AssertRegex, Passed: false, Score: 0, Reason: fmt.Sprintf("Invalid regex pattern: %v", err)}
	}
	passed := re.MatchString(output)
	verb := "matches"
	if !passed {
		verb = "does not match"
	}
	return AssertionResult{
		Type:   AssertRegex,
		Passed: passed,
		Score:  boolScore(passed),
		Reason: fmt.Sprintf("Output %s pattern %q", verb, pattern),
	}
}

func evalJSONValid(output string) AssertionResult {
	var parsed any
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return AssertionResult{Type: AssertJSONValid, Passed: false, Score: 0, Reason: fmt.Sprintf("Output is not valid JSON: %v", err)}
	}
	return AssertionResult{Type: AssertJSONValid, Passed: true, Score: 1, Reason: "Output is valid JSON"}
}

func evalJSONSchema(output string, config map[string]any) AssertionResult {
	var parsed any
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		// Parse failure short-circuits before the schema check.
		return AssertionResult{Type: AssertJSONSchema, Passed: false, Score: 0, Reason: fmt.Sprintf("Output is not valid JSON: %v", err)}
	}

	resolved, err := resolveSchema(config["schema"])
	if err != nil {
		return AssertionResult{Type: AssertJSONSchema, Passed: false, Score: 0, Reason: fmt.Sprintf("Invalid schema: %v", err)}
	}
	if err := resolved.Validate(parsed); err != nil {
		return AssertionResult{Type: AssertJSONSchema, Passed: false, Score: 0, Reason: fmt.Sprintf("Output does not match schema: %v", err)}
	}
	return AssertionResult{Type: AssertJSONSchema, Passed: true, Score: 1, Reason: "Output matches JSON schema"}
}

func resolveSchema(raw any) (*jsonschema.Resolved, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(encoded, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(&jsonschema.ResolveOptions{})
}

func evalLength(output string, config map[string]any) AssertionResult {
	minLen := configInt(config, "min_length", 0)
	maxLen := configInt(config, "max_length", math.MaxInt)
	length := len(output)
	passed := length >= minLen && length <= maxLen

	bound := fmt.Sprintf("%d", maxLen)
	if maxLen == math.MaxInt {
		bound = "inf"
	}
	adverb := "within"
	if !passed {
		adverb = "outside"
	}
	return AssertionResult{
		Type:   AssertLength,
		Passed: passed,
		Score:  boolScore(passed),
		Reason: fmt.Sprintf("Output length %d is %s bounds [%d, %s]", length, adverb, minLen, bound),
	}
}

func boolScore(passed bool) float64 {
	if passed {
		return 1
	}
	return 0
}

func configBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}

func configString(config map[string]any, key, fallback string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// configInt accepts both float64 (JSON decoding) and int values.
func configInt(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}
