package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate_RenderSubstitutesKnownPlaceholders(t *testing.T) {
	tmpl := Parse("Hello {user_input}, persona: {persona}")
	out := tmpl.Render(map[string]string{"user_input": "world", "persona": "friendly"})
	assert.Equal(t, "Hello world, persona: friendly", out)
}

func TestTemplate_UnknownPlaceholderResolvesEmpty(t *testing.T) {
	tmpl := Parse("Value: {unknown_thing}")
	out := tmpl.Render(map[string]string{})
	assert.Equal(t, "Value: ", out)
}

func TestNeedsMemory(t *testing.T) {
	assert.True(t, NeedsMemory("Use this context: {context}"))
	assert.False(t, NeedsMemory("No memory needed: {user_input}"))
}

func TestBuild_InjectsCommandCatalogAndGrammar(t *testing.T) {
	req := Request{
		Template:  "{persona}\n{user_input}\n{commands}",
		UserInput: "what's the weather",
		Persona:   "helpful assistant",
		Commands: []CommandSummary{
			{Name: "get_weather", Description: "fetches current weather", Arguments: []string{"city"}},
		},
	}

	result := Build(req, nil)

	assert.Contains(t, result.Prompt, "helpful assistant")
	assert.Contains(t, result.Prompt, "what's the weather")
	assert.Contains(t, result.Prompt, "get_weather")
	assert.Contains(t, result.Prompt, "city")
	assert.Contains(t, result.Prompt, "```json")
	assert.Greater(t, result.TokenCount, 0)
}

func TestBuild_HistoryWindowIsTrimmedToLimit(t *testing.T) {
	req := Request{
		Template: "{history}",
		History: []HistoryMessage{
			{Role: "user", Message: "one"},
			{Role: "assistant", Message: "two"},
			{Role: "user", Message: "three"},
		},
		HistoryLimit: 1,
	}

	result := Build(req, nil)
	assert.Equal(t, "user: three", result.Prompt)
}

func TestBuild_TokenCountMonotonicInLength(t *testing.T) {
	short := Build(Request{Template: "{user_input}", UserInput: "hi"}, nil)
	long := Build(Request{Template: "{user_input}", UserInput: "hi there, this is a much longer message"}, nil)
	require.Less(t, short.TokenCount, long.TokenCount)
}

func TestBuild_NoContextSkipsMemoryJoin(t *testing.T) {
	req := Request{Template: "{user_input}", UserInput: "hello", MemorySnippets: []string{"should not appear"}}
	result := Build(req, nil)
	assert.NotContains(t, result.Prompt, "should not appear")
	assert.False(t, result.NeedsMemory)
}
