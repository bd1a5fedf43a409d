package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/ada/internal/protocol"
)

func runStdIOEngine(ctx context.Context, env *runtimeEnv) error {
	env.logger.Info("starting engine stdio bridge")
	runner := newStdIORunner(os.Stdin, os.Stdout, env)
	stop := watchConfig(env, runner.bridge)
	defer stop()
	return runner.Run(ctx)
}

type stdioRunner struct {
	scanner *bufio.Scanner
	writer  *bufio.Writer
	events  chan protocol.Event
	bridge  *bridge
	logger  *zap.Logger

	// closeMu guards events against sends after close.
	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

func newStdIORunner(in io.Reader, out io.Writer, env *runtimeEnv) *stdioRunner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	r := &stdioRunner{
		scanner: scanner,
		writer:  bufio.NewWriter(out),
		events:  make(chan protocol.Event, 256),
		logger:  env.logger.Named("stdio"),
	}
	r.bridge = newBridge(env, r.emitEvent)
	return r
}

func (r *stdioRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.bridge.Close()

	errCh := make(chan error, 1)
	go r.flushEvents(errCh)

	r.bridge.Greet()

	for r.scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		// Concurrent so cancel_request can reach a waiting submission.
		r.wg.Add(1)
		go func(l string) {
			defer r.wg.Done()
			if err := r.bridge.HandleLine(ctx, []byte(l)); err != nil {
				r.logger.Warn("stdio command error", zap.Error(err))
			}
		}(line)
	}

	if err := r.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		r.emitEvent(protocol.NewErrorEvent("", fmt.Sprintf("stdin error: %v", err), "protocol_error", ""))
	}

	r.wg.Wait()
	r.closeEvents()
	return <-errCh
}

func (r *stdioRunner) closeEvents() {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
}

func (r *stdioRunner) flushEvents(errCh chan<- error) {
	for ev := range r.events {
		if err := r.writeEvent(ev); err != nil {
			errCh <- err
			return
		}
	}
	errCh <- r.writer.Flush()
}

func (r *stdioRunner) writeEvent(ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := r.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return r.writer.Flush()
}

func (r *stdioRunner) emitEvent(ev protocol.Event) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("dropping event due to full buffer", zap.String("type", string(ev.GetType())))
	}
}
