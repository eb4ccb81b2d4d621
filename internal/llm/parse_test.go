package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

func TestParseResponsePlan(t *testing.T) {
	t.Parallel()

	resp := ParseResponse(` {"action":"plan","confidence":0.75,"steps":[
		{"tool":"read_file","arguments":{"path":"sales.csv"}},
		{"tool":"list_files"}
	]} `)

	require.Equal(t, ports.ResponsePlan, resp.Kind, resp.Reason)
	assert.InDelta(t, 0.75, resp.Confidence, 1e-9)
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, "read_file", resp.Steps[0].Tool)
	assert.Equal(t, map[string]any{"path": "sales.csv"}, resp.Steps[0].Arguments)
	assert.Equal(t, map[string]any{}, resp.Steps[1].Arguments)
}

func TestParseResponseFinish(t *testing.T) {
	t.Parallel()

	resp := ParseResponse(`{"action":"finish","summary":"report.pdf written"}`)
	require.Equal(t, ports.ResponseFinish, resp.Kind)
	assert.Equal(t, "report.pdf written", resp.Summary)
}

func TestParseResponseEmptyPlanIsStillAPlan(t *testing.T) {
	t.Parallel()

	resp := ParseResponse(`{"action":"plan","steps":[]}`)
	require.Equal(t, ports.ResponsePlan, resp.Kind)
	assert.Empty(t, resp.Steps)
}

func TestParseResponseRejectsEverythingOutsideTheClosedSet(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":            "   ",
		"prose":            "Sure! Here is my plan: read the file.",
		"fenced":           "```json\n{\"action\":\"finish\",\"summary\":\"x\"}\n```",
		"array":            `[{"tool":"x"}]`,
		"unknown action":   `{"action":"ask_user","summary":"?"}`,
		"missing action":   `{"steps":[]}`,
		"unknown field":    `{"action":"finish","summary":"x","thoughts":"hmm"}`,
		"unknown step key": `{"action":"plan","steps":[{"tool":"x","args":{}}]}`,
		"trailing":         `{"action":"finish","summary":"x"} {"action":"finish","summary":"y"}`,
		"finish w/ steps":  `{"action":"finish","summary":"x","steps":[{"tool":"x"}]}`,
		"finish no sum":    `{"action":"finish"}`,
		"plan w/ summary":  `{"action":"plan","summary":"x","steps":[{"tool":"x"}]}`,
		"blank tool":       `{"action":"plan","steps":[{"tool":" "}]}`,
		"bad confidence":   `{"action":"plan","confidence":1.5,"steps":[{"tool":"x"}]}`,
		"truncated":        `{"action":"plan","steps":[{"tool":"x"`,
	}
	for name, raw := range cases {
		resp := ParseResponse(raw)
		assert.Equal(t, ports.ResponseMalformed, resp.Kind, name)
		assert.NotEmpty(t, resp.Reason, name)
		assert.Equal(t, raw, resp.Raw, name)
	}
}
