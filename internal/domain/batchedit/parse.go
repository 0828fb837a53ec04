package batchedit

import (
	"context"
	"strings"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

const (
	msgEmptyInstruction  = "请输入指令"
	msgBulkJSONMalformed = "语音助手 JSON 无法解析。"
	msgNoEndpoint        = "API1/API2 均未配置 Base URL / Model。"
	msgAPIFellBack       = "API 解析失败，已降级为本地规则解析。"
)

// ParseLocal runs the rule-based clause parser over input.
func ParseLocal(input string) *ParsedResult {
	res := ParseClauses(input)
	return &ParsedResult{
		Actions:  CommandsToActions(res.Commands),
		Errors:   res.Errors,
		UsedMode: ModeLocal,
	}
}

// FromActionList converts a decoded action list into a parse result
// attributed to mode.
func FromActionList(l *ActionList, mode Mode) *ParsedResult {
	return &ParsedResult{
		Actions:  l.Actions,
		Warnings: l.Warnings,
		Notes:    l.Notes,
		Unparsed: l.Unparsed,
		UsedMode: mode,
	}
}

// ParseStructured decodes an action list supplied directly, for example by
// a voice assistant.
func ParseStructured(doc string) (*ParsedResult, error) {
	l, ok := BestActionList(doc)
	if !ok {
		return nil, errors.New(errors.ErrCodeActionListMalformed, msgBulkJSONMalformed)
	}
	return FromActionList(l, ModeLocal), nil
}

// PreferredMode is the default parse mode given which endpoints exist.
func PreferredMode(api1, api2 bool) Mode {
	switch {
	case api1:
		return ModeAPI1
	case api2:
		return ModeAPI2
	default:
		return ModeLocal
	}
}

// Parser turns a session's input into a ParsedResult. API1 and API2 are the
// assistant endpoints; nil means not configured.
type Parser struct {
	API1 Completer
	API2 Completer
}

// Endpoint returns the assistant behind m, or nil.
func (p *Parser) Endpoint(m Mode) Completer {
	switch m {
	case ModeAPI1:
		return p.API1
	case ModeAPI2:
		return p.API2
	default:
		return nil
	}
}

// Configured reports which endpoints are available.
func (p *Parser) Configured() (api1, api2 bool) {
	return p.API1 != nil, p.API2 != nil
}

// AutofillMode picks the endpoint used for assistant autofill: the mode that
// produced the parse when it was an API, else the preferred endpoint.
func (p *Parser) AutofillMode(used Mode) Mode {
	if p.Endpoint(used) != nil {
		return used
	}
	return PreferredMode(p.Configured())
}

// Parse produces the parse result for the session's current input, reusing
// the cached result when the input, mode and template are unchanged. In an
// API mode the selected endpoint is tried first, then the other one, then
// the local parser; each fallback leaves a warning.
func (p *Parser) Parse(ctx context.Context, s *ParseSession, d *dataset.Dataset, aliases map[string]string) (*ParsedResult, error) {
	if cached, ok := s.Cached(); ok {
		return cached, nil
	}
	text := strings.TrimSpace(s.Input)
	if text == "" && strings.TrimSpace(s.BulkJSON) == "" {
		return nil, errors.New(errors.ErrCodeEmptyInstruction, msgEmptyInstruction)
	}

	if s.usesBulkJSON() {
		parsed, err := ParseStructured(s.BulkJSON)
		if err != nil {
			return nil, err
		}
		s.StoreParsed(parsed)
		return parsed, nil
	}

	if s.Mode != ModeAPI1 && s.Mode != ModeAPI2 {
		parsed := ParseLocal(text)
		s.StoreParsed(parsed)
		return parsed, nil
	}

	if p.API1 == nil && p.API2 == nil {
		return nil, errors.New(errors.ErrCodeAssistantNotConfigured, msgNoEndpoint)
	}

	prompt, err := BuildBulkPrompt(bulkPromptInput(s, d, text, aliases))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "render bulk prompt")
	}

	primary := s.Mode
	secondary := ModeAPI2
	if primary == ModeAPI2 {
		secondary = ModeAPI1
	}

	parsed, primaryErr := p.tryAPI(ctx, primary, prompt)
	if primaryErr != "" {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var secondaryErr string
		parsed, secondaryErr = p.tryAPI(ctx, secondary, prompt)
		switch {
		case secondaryErr == "":
			parsed.Warnings = append([]string{primary.Label() + " 解析失败，已改用 " + secondary.Label()}, parsed.Warnings...)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			parsed = ParseLocal(text)
			parsed.Warnings = append(parsed.Warnings, primaryErr, secondaryErr, msgAPIFellBack)
		}
	}
	s.StoreParsed(parsed)
	return parsed, nil
}

// tryAPI calls one endpoint and decodes its reply. A non-empty string
// describes why the endpoint could not be used.
func (p *Parser) tryAPI(ctx context.Context, m Mode, prompt string) (*ParsedResult, string) {
	client := p.Endpoint(m)
	if client == nil {
		return nil, m.Label() + " 未配置 Base URL / Model。"
	}
	reply, err := client.Complete(ctx, prompt, BulkParseMaxTokens)
	if err != nil {
		return nil, m.Label() + " 调用失败：" + err.Error()
	}
	l, ok := BestActionList(reply)
	if !ok {
		return nil, m.Label() + " 未输出可解析的 JSON。"
	}
	return FromActionList(l, m), ""
}

func bulkPromptInput(s *ParseSession, d *dataset.Dataset, text string, aliases map[string]string) BulkPromptInput {
	in := BulkPromptInput{Template: s.Template, Input: text, Aliases: aliases}
	if d == nil {
		return in
	}
	for _, pt := range d.Points {
		in.Points = append(in.Points, pt.Label)
		if pt.ID == s.ActivePointID {
			in.ActivePoint = pt.Label
		}
	}
	for _, sp := range d.Species {
		if n := strings.TrimSpace(sp.NameCn); n != "" {
			in.Species = append(in.Species, n)
		}
	}
	return in
}
