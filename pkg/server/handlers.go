package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"toolchat/pkg/agent"
	"toolchat/pkg/llm"
	"toolchat/pkg/stream"
)

const (
	maxBodyBytes      = 4 << 20
	listModelsTimeout = 10 * time.Second
)

// Tool choice values accepted by the agent endpoints.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// ChatRequest is the body of /api/chat.
type ChatRequest struct {
	Model    string       `json:"model"`
	Messages []agent.Turn `json:"messages"`
	Stream   *bool        `json:"stream,omitempty"`
}

// AgentChatRequest is the body of /api/agent/chat and of every frame sent
// to /api/agent/ws.
type AgentChatRequest struct {
	Messages   []agent.Turn `json:"messages"`
	Model      string       `json:"model"`
	ToolChoice string       `json:"tool_choice"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	mode := "disabled"
	if s.system().EnableTools {
		mode = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"message":    "toolchat server running",
		"agent_mode": mode,
	})
}

// handleModels never fails the request; listing errors are reported in the
// body next to an empty list.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), listModelsTimeout)
	defer cancel()

	models, err := s.backend.ListModels(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to fetch models", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"models": []llm.ModelInfo{}, "error": err.Error()})
		return
	}
	if models == nil {
		models = []llm.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// handleChat forwards a plain turn to the model and relays its raw output
// line by line. Failures after the request was accepted are sent as
// {"error": ...} lines.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	model := s.model(req.Model)
	slog.InfoContext(r.Context(), "/api/chat request received", "model", model, "messages", len(req.Messages))

	timeout := time.Duration(s.system().PassthroughTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	msgs := make([]llm.Message, 0, len(req.Messages))
	for _, t := range req.Messages {
		msgs = append(msgs, llm.NewTextMessage(t.Role, t.Content))
	}
	streaming := req.Stream == nil || *req.Stream

	out := stream.NewNDJSONWriter(w)
	err := s.backend.Passthrough(ctx, llm.PassthroughRequest{Model: model, Messages: msgs, Stream: streaming}, out.WriteLine)
	if err != nil && r.Context().Err() == nil {
		slog.ErrorContext(ctx, "Passthrough failed", "model", model, "error", err)
		if werr := out.WriteJSON(map[string]string{"error": "Error: " + err.Error()}); werr != nil {
			slog.WarnContext(ctx, "Failed to report passthrough error", "error", werr)
		}
	}
}

// handleAgentChat runs one agent turn and streams its events as NDJSON.
func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	var body AgentChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req, err := s.agentRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.InfoContext(r.Context(), "/api/agent/chat request received",
		"model", req.Model, "tool_choice", body.ToolChoice, "messages", len(req.History))

	s.runner.Run(r.Context(), req, stream.NewNDJSONWriter(w))
}

// handleAgentWS serves agent turns over one WebSocket. Every inbound frame is
// a request; runs execute one at a time in arrival order. Closing the socket
// cancels the run in progress.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(r.Context(), "WS Upgrade failed", "error", err)
		return
	}
	conn := stream.NewSafeConn(raw)
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames := make(chan []byte, 8)
	go func() {
		defer cancel()
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				slog.DebugContext(ctx, "WS connection closed", "remote", r.RemoteAddr, "error", err)
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	sink := stream.NewWSSink(conn)
	for data := range frames {
		var body AgentChatRequest
		if err := json.Unmarshal(data, &body); err != nil {
			if werr := sink.Emit(ctx, agent.Error(fmt.Sprintf("invalid request: %v", err))); werr != nil {
				return
			}
			continue
		}
		req, err := s.agentRequest(body)
		if err != nil {
			if werr := sink.Emit(ctx, agent.Error(err.Error())); werr != nil {
				return
			}
			continue
		}
		slog.InfoContext(ctx, "WS agent request received", "model", req.Model, "tool_choice", body.ToolChoice, "messages", len(req.History))
		s.runner.Run(ctx, req, sink)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) agentRequest(body AgentChatRequest) (agent.Request, error) {
	if len(body.Messages) == 0 {
		return agent.Request{}, fmt.Errorf("messages must not be empty")
	}
	choice := strings.ToLower(strings.TrimSpace(body.ToolChoice))
	switch choice {
	case "", ToolChoiceAuto, ToolChoiceRequired, ToolChoiceNone:
	default:
		return agent.Request{}, fmt.Errorf("unknown tool_choice %q", body.ToolChoice)
	}
	return agent.Request{
		Model:        s.model(body.Model),
		History:      body.Messages,
		ToolsEnabled: choice != ToolChoiceNone,
	}, nil
}

func (s *Server) model(requested string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return s.defaultModel
}
