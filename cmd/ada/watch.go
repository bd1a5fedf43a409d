package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/ada/internal/config"
	"github.com/ChamsBouzaiene/ada/internal/protocol"
)

// watchConfig reloads the answer service whenever the config file changes
// and reports the result through b. The returned function stops watching.
func watchConfig(env *runtimeEnv, b *bridge) func() {
	w, err := config.NewWatcher(env.config, env.logger.Named("config"))
	if err != nil {
		env.logger.Warn("config watcher disabled", zap.Error(err))
		return func() {}
	}

	w.OnChange(func() {
		provider, model, err := env.Reload(context.Background())
		if err != nil {
			b.emit(protocol.NewErrorEvent(b.sessionID(), fmt.Sprintf("failed to reload config: %v", err), "config_error", ""))
			return
		}
		b.emit(protocol.NewConfigReloadedEvent(b.sessionID(), provider, model))
	})

	if err := w.Start(); err != nil {
		env.logger.Warn("config watcher disabled", zap.Error(err))
		_ = w.Stop()
		return func() {}
	}
	return func() { _ = w.Stop() }
}
