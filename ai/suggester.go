// Package ai offers reply suggestions to prefill the chat input.
package ai

import (
	"chat-core/domain"
	"context"
	"strings"
	"text/template"

	"github.com/samber/lo"
)

const DefaultReplyTemplate = `Hello {{.Name}}, thank you for your interest in {{.Topic}}.
{{- if .Context}} {{.Context}}{{end}} When would suit you for a quick call?`

type replyData struct {
	Name    string
	Topic   string
	Context string
}

// TemplateSuggester renders a reply from a text/template. It is offline and
// deterministic, which makes it a drop-in for a remote text generator.
type TemplateSuggester struct {
	tpl *template.Template
}

// NewTemplateSuggester parses text, DefaultReplyTemplate when empty.
func NewTemplateSuggester(text string) (*TemplateSuggester, error) {
	tpl, err := template.New("reply").Option("missingkey=error").Parse(lo.CoalesceOrEmpty(text, DefaultReplyTemplate))
	if err != nil {
		return nil, err
	}
	return &TemplateSuggester{tpl: tpl}, nil
}

func (s *TemplateSuggester) Suggest(ctx context.Context, request domain.SuggestionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data := replyData{
		Name:    lo.CoalesceOrEmpty(strings.TrimSpace(request.CounterpartyName), "there"),
		Topic:   lo.CoalesceOrEmpty(strings.TrimSpace(request.Topic), "our offer"),
		Context: strings.TrimSpace(request.SourceContext),
	}

	var sb strings.Builder
	if err := s.tpl.Execute(&sb, data); err != nil {
		return "", err
	}
	// one line, the chat input has no room for layout
	return strings.Join(strings.Fields(sb.String()), " "), nil
}
