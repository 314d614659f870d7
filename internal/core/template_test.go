package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractVariables(t *testing.T) {
	got := ExtractVariables("Hello {{name}}, {{greeting}} {{name}}!")
	want := []string{"greeting", "name"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExtractVariables mismatch (-want +got):\n%s", diff)
	}
	if got := ExtractVariables("no placeholders"); len(got) != 0 {
		t.Fatalf("expected no variables, got %v", got)
	}
	// Hyphens and spaces are not valid identifier characters.
	if got := ExtractVariables("{{not-valid}} {{also bad}}"); len(got) != 0 {
		t.Fatalf("expected invalid placeholders ignored, got %v", got)
	}
}

func TestExtractMessageVariables(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "You are {{persona}}"},
		{Role: RoleUser, Content: "{{question}} about {{persona}}"},
	}
	got := ExtractMessageVariables(msgs)
	want := []string{"persona", "question"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExtractMessageVariables mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateVariables(t *testing.T) {
	ok, missing := ValidateVariables([]string{"a", "b"}, map[string]any{"a": 1})
	if ok || !cmp.Equal(missing, []string{"b"}) {
		t.Fatalf("got ok=%v missing=%v", ok, missing)
	}
	// Extra provided keys are fine.
	ok, missing = ValidateVariables([]string{"a"}, map[string]any{"a": 1, "z": 2})
	if !ok || len(missing) != 0 {
		t.Fatalf("got ok=%v missing=%v", ok, missing)
	}
}

func TestCompileTemplateSinglePass(t *testing.T) {
	// A substituted value containing placeholder syntax must not be
	// re-expanded.
	got := CompileTemplate("{{a}} and {{b}}", map[string]any{
		"a": "{{b}}",
		"b": "two",
	})
	if got != "{{b}} and two" {
		t.Fatalf("CompileTemplate = %q", got)
	}
}

func TestCompileTemplateUnknownPlaceholderKept(t *testing.T) {
	got := CompileTemplate("{{known}} {{unknown}}", map[string]any{"known": "x"})
	if got != "x {{unknown}}" {
		t.Fatalf("CompileTemplate = %q", got)
	}
}

func TestCompileTemplateValueRendering(t *testing.T) {
	got := CompileTemplate("s={{s}} n={{n}} o={{o}}", map[string]any{
		"s": "plain",
		"n": 42,
		"o": map[string]any{"k": "v"},
	})
	want := `s=plain n=42 o={"k":"v"}`
	if got != want {
		t.Fatalf("CompileTemplate = %q, want %q", got, want)
	}
}

func TestCompileMessagesPreservesRoleAndOrder(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys {{x}}"},
		{Role: RoleUser, Content: "user {{x}}"},
	}
	got := CompileMessages(msgs, map[string]any{"x": "v"})
	if got[0].Role != RoleSystem || got[0].Content != "sys v" {
		t.Fatalf("first message = %+v", got[0])
	}
	if got[1].Role != RoleUser || got[1].Content != "user v" {
		t.Fatalf("second message = %+v", got[1])
	}
}

func TestDryRunText(t *testing.T) {
	res := DryRun(TemplateText, "Hello {{name}}", nil, map[string]any{"name": "Ada"})
	if !res.IsValid {
		t.Fatalf("expected valid, got %+v", res)
	}
	if res.CompiledText == nil || *res.CompiledText != "Hello Ada" {
		t.Fatalf("compiled = %v", res.CompiledText)
	}
	msgs := res.RequestMessages()
	if len(msgs) != 1 || msgs[0].Role != RoleUser || msgs[0].Content != "Hello Ada" {
		t.Fatalf("request messages = %+v", msgs)
	}
}

func TestDryRunMissingVariables(t *testing.T) {
	res := DryRun(TemplateText, "{{a}} {{b}}", nil, map[string]any{"a": 1})
	if res.IsValid {
		t.Fatal("expected invalid")
	}
	if diff := cmp.Diff([]string{"b"}, res.MissingVariables); diff != "" {
		t.Fatalf("missing variables mismatch (-want +got):\n%s", diff)
	}
	if res.CompiledText != nil {
		t.Fatalf("compiled must be absent when invalid, got %q", *res.CompiledText)
	}
}

func TestDryRunChat(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be {{tone}}"},
		{Role: RoleUser, Content: "{{question}}"},
	}
	res := DryRun(TemplateChat, "", msgs, map[string]any{"tone": "kind", "question": "why?"})
	if !res.IsValid || len(res.CompiledMessages) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.CompiledMessages[0].Content != "be kind" {
		t.Fatalf("compiled system = %q", res.CompiledMessages[0].Content)
	}
	if got := res.RequestMessages(); len(got) != 2 {
		t.Fatalf("request messages = %+v", got)
	}
}
