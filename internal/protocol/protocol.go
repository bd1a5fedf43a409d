package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/ada/internal/answer"
	"github.com/ChamsBouzaiene/ada/internal/document"
	"github.com/ChamsBouzaiene/ada/internal/session"
)

// CommandType enumerates all supported client -> engine commands.
type CommandType string

const (
	CommandSubmitQuestion CommandType = "submit_question"
	CommandSelectQuestion CommandType = "select_question"
	CommandGetHistory     CommandType = "get_history"
	CommandGetActive      CommandType = "get_active"
	CommandResolveSection CommandType = "resolve_section"
	CommandSearchHistory  CommandType = "search_history"
	CommandShowPanel      CommandType = "show_panel"
	CommandHidePanel      CommandType = "hide_panel"
	CommandTogglePanel    CommandType = "toggle_panel"
	CommandCancelRequest  CommandType = "cancel_request"
	CommandGetConfig      CommandType = "get_config"
	CommandSaveConfig     CommandType = "save_config"
	CommandReloadConfig   CommandType = "reload_config"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// SubmitQuestionCommand asks a new question.
type SubmitQuestionCommand struct {
	Type      CommandType `json:"type"`
	Text      string      `json:"text"`
	RequestID string      `json:"request_id,omitempty"`
}

// GetType implements Command.
func (c SubmitQuestionCommand) GetType() CommandType { return CommandSubmitQuestion }

// SelectQuestionCommand makes a question from history active.
type SelectQuestionCommand struct {
	Type       CommandType `json:"type"`
	QuestionID int         `json:"question_id"`
}

// GetType implements Command.
func (c SelectQuestionCommand) GetType() CommandType { return CommandSelectQuestion }

// ResolveSectionCommand requests the references cited by one section of the
// active document.
type ResolveSectionCommand struct {
	Type    CommandType `json:"type"`
	Section int         `json:"section"`
}

// GetType implements Command.
func (c ResolveSectionCommand) GetType() CommandType { return CommandResolveSection }

// SearchHistoryCommand searches answered questions.
type SearchHistoryCommand struct {
	Type  CommandType `json:"type"`
	Query string      `json:"query"`
	Limit int         `json:"limit,omitempty"`
}

// GetType implements Command.
func (c SearchHistoryCommand) GetType() CommandType { return CommandSearchHistory }

// SaveConfigCommand persists user configuration.
type SaveConfigCommand struct {
	Type   CommandType       `json:"type"`
	Config map[string]string `json:"config"`
}

// GetType implements Command.
func (c SaveConfigCommand) GetType() CommandType { return CommandSaveConfig }

// SimpleCommand is any command that carries no fields besides its type.
type SimpleCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c SimpleCommand) GetType() CommandType { return c.Type }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandSubmitQuestion:
		var cmd SubmitQuestionCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode submit_question: %w", err)
		}
		// Blank text is not an error; the session ignores it.
		return cmd, nil
	case CommandSelectQuestion:
		var cmd SelectQuestionCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode select_question: %w", err)
		}
		if cmd.QuestionID <= 0 {
			return nil, errors.New("select_question requires a positive question_id")
		}
		return cmd, nil
	case CommandResolveSection:
		var cmd ResolveSectionCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode resolve_section: %w", err)
		}
		if cmd.Section < 0 {
			return nil, errors.New("resolve_section requires a non-negative section")
		}
		return cmd, nil
	case CommandSearchHistory:
		var cmd SearchHistoryCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode search_history: %w", err)
		}
		if strings.TrimSpace(cmd.Query) == "" {
			return nil, errors.New("search_history requires query")
		}
		return cmd, nil
	case CommandSaveConfig:
		var cmd SaveConfigCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode save_config: %w", err)
		}
		if len(cmd.Config) == 0 {
			return nil, errors.New("save_config requires config")
		}
		return cmd, nil
	case CommandGetHistory, CommandGetActive, CommandShowPanel, CommandHidePanel,
		CommandTogglePanel, CommandCancelRequest, CommandGetConfig, CommandReloadConfig:
		return SimpleCommand{Type: base.Type}, nil
	case "":
		return nil, errors.New("command requires type")
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}

// NewRequestID generates an opaque identifier for a submission.
func NewRequestID() string {
	return uuid.NewString()
}

// EventType enumerates engine -> client events.
type EventType string

const (
	EventStatus         EventType = "status"
	EventQuestionAdded  EventType = "question_added"
	EventActiveChanged  EventType = "active_changed"
	EventHistory        EventType = "history"
	EventDocument       EventType = "document"
	EventCitations      EventType = "citations"
	EventSearchResults  EventType = "search_results"
	EventPanel          EventType = "panel"
	EventConfigLoaded   EventType = "config_loaded"
	EventConfigReloaded EventType = "config_reloaded"
	EventCancelled      EventType = "cancelled"
	EventError          EventType = "error"
	EventSetupRequired  EventType = "setup_required"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into JSON for NDJSON transport.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Version   uint64    `json:"version,omitempty"`
}

func (eventBase) isEvent() {}

// GetType implements Event.
func (e eventBase) GetType() EventType { return e.Type }

// StatusEvent reports the state of the latest submission.
type StatusEvent struct {
	eventBase
	State  session.State    `json:"state"`
	Reason string           `json:"reason,omitempty"`
	Kind   answer.ErrorKind `json:"kind,omitempty"`
}

// NewStatusEvent constructs a status event.
func NewStatusEvent(sessionID string, version uint64, st session.Status) StatusEvent {
	return StatusEvent{
		eventBase: eventBase{Type: EventStatus, SessionID: sessionID, Version: version},
		State:     st.State,
		Reason:    st.Reason,
		Kind:      st.Kind,
	}
}

// QuestionAddedEvent carries a newly answered question.
type QuestionAddedEvent struct {
	eventBase
	Question session.Question `json:"question"`
}

// NewQuestionAddedEvent constructs a question_added event.
func NewQuestionAddedEvent(sessionID string, version uint64, q session.Question) QuestionAddedEvent {
	return QuestionAddedEvent{
		eventBase: eventBase{Type: EventQuestionAdded, SessionID: sessionID, Version: version},
		Question:  q,
	}
}

// ActiveChangedEvent signals a new selection.
type ActiveChangedEvent struct {
	eventBase
	QuestionID int                `json:"question_id"`
	Document   *document.Document `json:"document,omitempty"`
}

// NewActiveChangedEvent constructs an active_changed event.
func NewActiveChangedEvent(sessionID string, version uint64, id int, doc *document.Document) ActiveChangedEvent {
	return ActiveChangedEvent{
		eventBase:  eventBase{Type: EventActiveChanged, SessionID: sessionID, Version: version},
		QuestionID: id,
		Document:   doc,
	}
}

// HistoryEntry is the list form of a question.
type HistoryEntry struct {
	ID     int    `json:"id"`
	Text   string `json:"text"`
	Active bool   `json:"active,omitempty"`
}

// HistoryEvent lists answered questions in submission order.
type HistoryEvent struct {
	eventBase
	Questions []HistoryEntry `json:"questions"`
}

// NewHistoryEvent constructs a history event from a snapshot.
func NewHistoryEvent(sessionID string, snap session.Snapshot) HistoryEvent {
	entries := make([]HistoryEntry, 0, len(snap.History))
	for _, q := range snap.History {
		entries = append(entries, HistoryEntry{ID: q.ID, Text: q.Text, Active: q.ID == snap.ActiveID})
	}
	return HistoryEvent{
		eventBase: eventBase{Type: EventHistory, SessionID: sessionID, Version: snap.Version},
		Questions: entries,
	}
}

// DocumentEvent carries the active document. QuestionID is zero when
// nothing is active.
type DocumentEvent struct {
	eventBase
	QuestionID int                `json:"question_id"`
	Document   *document.Document `json:"document,omitempty"`
}

// NewDocumentEvent constructs a document event.
func NewDocumentEvent(sessionID string, id int, doc *document.Document) DocumentEvent {
	return DocumentEvent{
		eventBase:  eventBase{Type: EventDocument, SessionID: sessionID},
		QuestionID: id,
		Document:   doc,
	}
}

// CitationsEvent lists the references cited by one section.
type CitationsEvent struct {
	eventBase
	Section    int                  `json:"section"`
	References []document.Reference `json:"references"`
}

// NewCitationsEvent constructs a citations event.
func NewCitationsEvent(sessionID string, section int, refs []document.Reference) CitationsEvent {
	if refs == nil {
		refs = []document.Reference{}
	}
	return CitationsEvent{
		eventBase:  eventBase{Type: EventCitations, SessionID: sessionID},
		Section:    section,
		References: refs,
	}
}

// SearchResultsEvent lists history matches, best first.
type SearchResultsEvent struct {
	eventBase
	Query string         `json:"query"`
	Hits  []HistoryEntry `json:"hits"`
}

// NewSearchResultsEvent constructs a search_results event.
func NewSearchResultsEvent(sessionID, query string, found []session.Question) SearchResultsEvent {
	hits := make([]HistoryEntry, 0, len(found))
	for _, q := range found {
		hits = append(hits, HistoryEntry{ID: q.ID, Text: q.Text})
	}
	return SearchResultsEvent{
		eventBase: eventBase{Type: EventSearchResults, SessionID: sessionID},
		Query:     query,
		Hits:      hits,
	}
}

// PanelEvent reports references panel visibility.
type PanelEvent struct {
	eventBase
	Visible bool `json:"visible"`
}

// NewPanelEvent constructs a panel event.
func NewPanelEvent(sessionID string, visible bool) PanelEvent {
	return PanelEvent{
		eventBase: eventBase{Type: EventPanel, SessionID: sessionID},
		Visible:   visible,
	}
}

// ErrorEvent reports recoverable protocol or engine issues.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(sessionID, message, kind, details string) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError, SessionID: sessionID},
		Message:   message,
		Kind:      kind,
		Details:   details,
	}
}

// SetupRequiredEvent signals that no usable configuration was found.
type SetupRequiredEvent struct {
	eventBase
	Reason string `json:"reason,omitempty"`
}

// NewSetupRequiredEvent constructs a setup_required event.
func NewSetupRequiredEvent(reason string) SetupRequiredEvent {
	return SetupRequiredEvent{
		eventBase: eventBase{Type: EventSetupRequired},
		Reason:    reason,
	}
}

// ConfigLoadedEvent returns the current configuration.
type ConfigLoadedEvent struct {
	eventBase
	Config map[string]string `json:"config"`
}

// NewConfigLoadedEvent constructs a config_loaded event.
func NewConfigLoadedEvent(config map[string]string) ConfigLoadedEvent {
	return ConfigLoadedEvent{
		eventBase: eventBase{Type: EventConfigLoaded},
		Config:    config,
	}
}

// ConfigReloadedEvent signals that the answer service was rebuilt from
// configuration.
type ConfigReloadedEvent struct {
	eventBase
	Provider  string `json:"provider"`
	ModelName string `json:"model_name,omitempty"`
}

// NewConfigReloadedEvent constructs a config_reloaded event.
func NewConfigReloadedEvent(sessionID, provider, modelName string) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		eventBase: eventBase{Type: EventConfigReloaded, SessionID: sessionID},
		Provider:  provider,
		ModelName: modelName,
	}
}

// CancelledEvent signals that the in-flight question was abandoned.
type CancelledEvent struct {
	eventBase
	Reason string `json:"reason,omitempty"`
}

// NewCancelledEvent constructs a cancelled event.
func NewCancelledEvent(sessionID, reason string) CancelledEvent {
	return CancelledEvent{
		eventBase: eventBase{Type: EventCancelled, SessionID: sessionID},
		Reason:    reason,
	}
}
