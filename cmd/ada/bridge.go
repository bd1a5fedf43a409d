package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/ada/internal/document"
	"github.com/ChamsBouzaiene/ada/internal/protocol"
	"github.com/ChamsBouzaiene/ada/internal/session"
)

// bridge turns protocol commands into session operations and session changes
// into protocol events. Transports supply emit.
type bridge struct {
	env         *runtimeEnv
	emit        func(protocol.Event)
	logger      *zap.Logger
	unsubscribe func()
}

func newBridge(env *runtimeEnv, emit func(protocol.Event)) *bridge {
	b := &bridge{
		env:    env,
		emit:   emit,
		logger: env.logger.Named("bridge"),
	}
	b.unsubscribe = env.store.Subscribe(b.onChange)
	return b
}

func (b *bridge) Close() {
	b.unsubscribe()
}

func (b *bridge) sessionID() string {
	return b.env.store.ID()
}

// Greet sends the events a freshly connected client needs.
func (b *bridge) Greet() {
	if !b.env.config.Exists() {
		b.emit(protocol.NewSetupRequiredEvent("no configuration file at " + b.env.config.GetConfigPath()))
	}
	snap := b.env.store.Snapshot()
	b.emit(protocol.NewStatusEvent(b.sessionID(), snap.Version, snap.Status))
	provider, model := b.env.Describe()
	b.emit(protocol.NewConfigReloadedEvent(b.sessionID(), provider, model))
}

func (b *bridge) onChange(c session.Change) {
	id := b.sessionID()
	v := c.Snapshot.Version
	switch c.Kind {
	case session.ChangeStatus:
		b.emit(protocol.NewStatusEvent(id, v, c.Snapshot.Status))
	case session.ChangeQuestionAdded:
		b.emit(protocol.NewQuestionAddedEvent(id, v, *c.Question))
		b.emit(protocol.NewActiveChangedEvent(id, v, c.Question.ID, c.Question.Document))
		b.emit(protocol.NewStatusEvent(id, v, c.Snapshot.Status))
	case session.ChangeActive:
		q, _ := c.Snapshot.Active()
		b.emit(protocol.NewActiveChangedEvent(id, v, q.ID, q.Document))
	}
}

// HandleLine decodes and handles one raw command.
func (b *bridge) HandleLine(ctx context.Context, line []byte) error {
	cmd, err := protocol.DecodeCommand(line)
	if err != nil {
		b.emit(protocol.NewErrorEvent(b.sessionID(), err.Error(), "invalid_command", truncate(string(line), 256)))
		return err
	}
	return b.Handle(ctx, cmd)
}

// Handle runs one command. Submissions block until answered.
func (b *bridge) Handle(ctx context.Context, cmd protocol.Command) error {
	b.env.metrics.Command(string(cmd.GetType()))
	id := b.sessionID()

	switch c := cmd.(type) {
	case protocol.SubmitQuestionCommand:
		requestID := c.RequestID
		if requestID == "" {
			requestID = protocol.NewRequestID()
		}
		b.logger.Debug("submit", zap.String("request_id", requestID))
		res, err := b.env.store.Submit(ctx, c.Text)
		if errors.Is(err, session.ErrSuperseded) {
			b.logger.Debug("submission superseded", zap.String("request_id", requestID))
			return nil
		}
		if err != nil {
			// Reported through the status event.
			return nil
		}
		if res.Outcome == session.OutcomeIgnored {
			b.logger.Debug("blank submission ignored", zap.String("request_id", requestID))
		}
		return nil

	case protocol.SelectQuestionCommand:
		if !b.env.store.Select(c.QuestionID) {
			msg := fmt.Sprintf("no question with id %d", c.QuestionID)
			b.emit(protocol.NewErrorEvent(id, msg, "not_found", ""))
		}
		return nil

	case protocol.ResolveSectionCommand:
		doc, ok := b.env.store.ActiveDocument()
		if !ok {
			b.emit(protocol.NewErrorEvent(id, "no question is active", "no_active_question", ""))
			return nil
		}
		refs, err := document.ResolveAt(doc, c.Section)
		if err != nil {
			b.emit(protocol.NewErrorEvent(id, err.Error(), "invalid_section", ""))
			return nil
		}
		b.emit(protocol.NewCitationsEvent(id, c.Section, refs))
		return nil

	case protocol.SearchHistoryCommand:
		found, err := b.env.store.Search(c.Query, c.Limit)
		if err != nil {
			b.emit(protocol.NewErrorEvent(id, err.Error(), "search_error", ""))
			return err
		}
		b.emit(protocol.NewSearchResultsEvent(id, c.Query, found))
		return nil

	case protocol.SaveConfigCommand:
		cfg, err := b.env.config.Load()
		if err != nil {
			b.emit(protocol.NewErrorEvent(id, err.Error(), "config_error", ""))
			return err
		}
		if err := cfg.Apply(c.Config); err != nil {
			b.emit(protocol.NewErrorEvent(id, err.Error(), "config_error", ""))
			return err
		}
		if err := b.env.config.Save(cfg); err != nil {
			b.emit(protocol.NewErrorEvent(id, err.Error(), "config_save_error", ""))
			return err
		}
		b.emit(protocol.NewConfigLoadedEvent(cfg.WithDefaults().ToMap()))
		return nil

	case protocol.SimpleCommand:
		return b.handleSimple(ctx, c.Type)

	default:
		b.emit(protocol.NewErrorEvent(id, "unsupported command", "invalid_command", ""))
		return fmt.Errorf("unsupported command type %T", cmd)
	}
}

func (b *bridge) handleSimple(ctx context.Context, t protocol.CommandType) error {
	id := b.sessionID()
	store := b.env.store

	switch t {
	case protocol.CommandGetHistory:
		b.emit(protocol.NewHistoryEvent(id, store.Snapshot()))
	case protocol.CommandGetActive:
		q, _ := store.Active()
		b.emit(protocol.NewDocumentEvent(id, q.ID, q.Document))
	case protocol.CommandShowPanel:
		b.env.panel.Show()
		b.emit(protocol.NewPanelEvent(id, true))
	case protocol.CommandHidePanel:
		b.env.panel.Hide()
		b.emit(protocol.NewPanelEvent(id, false))
	case protocol.CommandTogglePanel:
		b.emit(protocol.NewPanelEvent(id, b.env.panel.Toggle()))
	case protocol.CommandCancelRequest:
		if store.Cancel() {
			b.emit(protocol.NewCancelledEvent(id, "cancelled by user request"))
		}
	case protocol.CommandGetConfig:
		b.emit(protocol.NewConfigLoadedEvent(b.env.Config().ToMap()))
	case protocol.CommandReloadConfig:
		provider, model, err := b.env.Reload(ctx)
		if err != nil {
			b.emit(protocol.NewErrorEvent(id, fmt.Sprintf("failed to reload config: %v", err), "config_error", ""))
			return err
		}
		b.emit(protocol.NewConfigReloadedEvent(id, provider, model))
	default:
		b.emit(protocol.NewErrorEvent(id, "unsupported command", "invalid_command", string(t)))
		return fmt.Errorf("unsupported command type %s", t)
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
