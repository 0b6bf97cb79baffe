package server

import (
	"errors"
	"fmt"

	"toolchat/pkg/config"
	"toolchat/pkg/monitor"

	"github.com/gorilla/websocket"
)

// monitorAware is implemented by runners that report their events to a
// monitor, such as *agent.Runner.
type monitorAware interface {
	SetMonitor(monitor.Monitor)
}

// Builder provides a fluent interface for assembling a Server with all of
// its collaborators. Components are built elsewhere and injected as
// instances; Build only wires and starts them.
type Builder struct {
	srv *Server
}

// NewBuilder starts from the business configuration: listen address, CORS
// origins and the default model.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{srv: &Server{
		cfg:          cfg.Server,
		defaultModel: cfg.DefaultModel,
		system:       config.DefaultSystemConfig,
	}}
}

// WithSystemConfig sets the source of engine settings; it is read per
// request so hot reloads apply.
func (b *Builder) WithSystemConfig(fn func() *config.SystemConfig) *Builder {
	if fn != nil {
		b.srv.system = fn
	}
	return b
}

// WithRunner injects the agent runner.
func (b *Builder) WithRunner(r AgentRunner) *Builder {
	b.srv.runner = r
	return b
}

// WithBackend injects model listing and plain chat.
func (b *Builder) WithBackend(be Backend) *Builder {
	b.srv.backend = be
	return b
}

// WithMonitor injects a monitor. It is started by Build and, if the runner
// accepts one, handed to the runner.
func (b *Builder) WithMonitor(m monitor.Monitor) *Builder {
	b.srv.monitor = m
	return b
}

// Build validates the wiring, starts the monitor and returns the server.
func (b *Builder) Build() (*Server, error) {
	s := b.srv
	if s.runner == nil {
		return nil, errors.New("server needs an agent runner")
	}
	if s.backend == nil {
		return nil, errors.New("server needs a model backend")
	}
	if s.cfg.Addr == "" {
		return nil, errors.New("server address is empty")
	}

	if s.monitor != nil {
		if err := s.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
		if ma, ok := s.runner.(monitorAware); ok {
			ma.SetMonitor(s.monitor)
		}
	}

	s.cors = newCORS(s.cfg.AllowedOrigins)
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s, nil
}
