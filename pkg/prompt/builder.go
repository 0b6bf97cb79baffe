// Package prompt assembles the message list sent to the model on every
// iteration of an agent run.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"toolchat/pkg/llm"
	"toolchat/pkg/tools"
)

//go:embed system_prompt.tmpl
var systemTemplate string

// DefaultPersona is used when config.json has no system_prompt.
const DefaultPersona = "You are a helpful assistant running on the user's own machine. Answer clearly and accurately."

// Round is one model response that requested tools, together with the
// results fed back for it. Results[i] answers Calls[i].
type Round struct {
	Text    string
	Calls   []llm.ToolCall
	Results []tools.Result
}

// Input is everything a prompt is built from.
type Input struct {
	History []llm.Message
	Tools   []tools.Spec // empty in direct-answer mode
	Rounds  []Round
}

// Builder renders prompts. It holds no per-run state and is safe for
// concurrent use.
type Builder struct {
	tmpl    *template.Template
	persona string
	now     func() time.Time
}

// NewBuilder parses the embedded system template. now may be nil.
func NewBuilder(persona string, now func() time.Time) (*Builder, error) {
	tmpl, err := template.New("system").Parse(systemTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse system prompt template: %w", err)
	}
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{tmpl: tmpl, persona: strings.TrimSpace(persona), now: now}, nil
}

// Build returns the system message, the conversation history, then one
// assistant/tool block per round. Caller-supplied system turns are folded
// into the single system message.
func (b *Builder) Build(in Input) ([]llm.Message, error) {
	var extra []string
	history := make([]llm.Message, 0, len(in.History))
	for _, m := range in.History {
		if m.Role == llm.RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				extra = append(extra, s)
			}
			continue
		}
		history = append(history, m)
	}

	system, err := b.System(in.Tools, strings.Join(extra, "\n\n"))
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, 1+len(history)+3*len(in.Rounds))
	msgs = append(msgs, llm.NewSystemMessage(system))
	msgs = append(msgs, history...)

	for i, r := range in.Rounds {
		if len(r.Results) != len(r.Calls) {
			return nil, fmt.Errorf("round %d has %d calls but %d results", i, len(r.Calls), len(r.Results))
		}
		msgs = append(msgs, llm.NewToolCallMessage(r.Text, r.Calls))
		for j, call := range r.Calls {
			msgs = append(msgs, llm.NewToolResultMessage(call, ResultContent(r.Results[j])))
		}
	}
	return msgs, nil
}

// System renders only the system message text.
func (b *Builder) System(specs []tools.Spec, extra string) (string, error) {
	var sb strings.Builder
	err := b.tmpl.Execute(&sb, struct {
		Persona string
		Date    string
		Tools   []tools.Spec
		Extra   string
	}{
		Persona: b.persona,
		Date:    b.now().Format("2006-01-02 (Monday)"),
		Tools:   specs,
		Extra:   extra,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return sb.String(), nil
}

// ResultContent is what the model sees for a tool result.
func ResultContent(r tools.Result) string {
	if r.Succeeded {
		return r.Output
	}
	return "Error: " + r.Error
}
