package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/ada/internal/answer"
	"github.com/ChamsBouzaiene/ada/internal/document"
	"github.com/ChamsBouzaiene/ada/internal/session"
)

func TestDecodeCommand(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Command
	}{
		{"submit", `{"type":"submit_question","text":"What is X?","request_id":"r1"}`,
			SubmitQuestionCommand{Type: CommandSubmitQuestion, Text: "What is X?", RequestID: "r1"}},
		{"submit blank", `{"type":"submit_question","text":"  "}`,
			SubmitQuestionCommand{Type: CommandSubmitQuestion, Text: "  "}},
		{"select", `{"type":"select_question","question_id":2}`,
			SelectQuestionCommand{Type: CommandSelectQuestion, QuestionID: 2}},
		{"resolve", `{"type":"resolve_section","section":0}`,
			ResolveSectionCommand{Type: CommandResolveSection, Section: 0}},
		{"search", `{"type":"search_history","query":"stars","limit":3}`,
			SearchHistoryCommand{Type: CommandSearchHistory, Query: "stars", Limit: 3}},
		{"save config", `{"type":"save_config","config":{"answer_provider":"fixture"}}`,
			SaveConfigCommand{Type: CommandSaveConfig, Config: map[string]string{"answer_provider": "fixture"}}},
		{"history", `{"type":"get_history"}`, SimpleCommand{Type: CommandGetHistory}},
		{"toggle", `{"type":"toggle_panel"}`, SimpleCommand{Type: CommandTogglePanel}},
		{"cancel", `{"type":"cancel_request"}`, SimpleCommand{Type: CommandCancelRequest}},
		{"reload", `{"type":"reload_config"}`, SimpleCommand{Type: CommandReloadConfig}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, cmd)
			assert.Equal(t, tc.want.GetType(), cmd.GetType())
		})
	}
}

func TestDecodeCommandErrors(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"type":`,
		"missing type":      `{"text":"hi"}`,
		"unknown":           `{"type":"start_session"}`,
		"select zero":       `{"type":"select_question"}`,
		"select wrong type": `{"type":"select_question","question_id":"two"}`,
		"negative section":  `{"type":"resolve_section","section":-1}`,
		"empty search":      `{"type":"search_history","query":" "}`,
		"empty config":      `{"type":"save_config"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestMarshalEvents(t *testing.T) {
	ev := NewStatusEvent("s1", 4, session.Status{State: session.StateErrored, Reason: "boom", Kind: answer.KindTransport})
	data, err := MarshalEvent(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","session_id":"s1","version":4,"state":"errored","reason":"boom","kind":"transport"}`, string(data))

	data, err = MarshalEvent(NewPanelEvent("", true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"panel","visible":true}`, string(data))

	data, err = MarshalEvent(NewCitationsEvent("s1", 2, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"citations","session_id":"s1","section":2,"references":[]}`, string(data))
}

func TestHistoryEvent(t *testing.T) {
	snap := session.Snapshot{
		Version:  7,
		History:  []session.Question{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}},
		ActiveID: 2,
	}
	ev := NewHistoryEvent("s1", snap)
	assert.Equal(t, EventHistory, ev.GetType())
	assert.Equal(t, []HistoryEntry{{ID: 1, Text: "a"}, {ID: 2, Text: "b", Active: true}}, ev.Questions)

	data, err := MarshalEvent(ev)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 7, decoded["version"])
}

func TestDocumentEventCarriesWireShape(t *testing.T) {
	doc, err := document.New(
		[]document.Section{{Header: "H", Body: "B", ReferenceIndices: []int{0}}},
		[]document.Reference{{Kind: document.KindResearchPaper, Name: "Paper", Link: "https://arxiv.org/abs/1"}},
	)
	require.NoError(t, err)

	data, err := MarshalEvent(NewDocumentEvent("s1", 3, doc))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"markdown":"B"`)
	assert.Contains(t, string(data), `"type":"Research Paper"`)
	assert.Contains(t, string(data), `"question_id":3`)
}
