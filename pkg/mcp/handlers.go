package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/enhance"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

// HandleValidate implements the homeiq/validate tool. The report is
// returned as JSON; an invalid document sets IsError.
func (t *Tools) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := documentArg(req)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	report, err := t.Pipeline.Validate(ctx, text)
	var syntaxErr *validate.SyntaxError
	var tmplErr *validate.TemplateEntityError
	if err != nil && !errors.As(err, &syntaxErr) && !errors.As(err, &tmplErr) {
		return errorResult(err.Error()), nil
	}
	return jsonResult(report, !report.Valid), nil
}

// HandleEnhance implements the homeiq/enhance tool.
func (t *Tools) HandleEnhance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := documentArg(req)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	res, err := t.Chain.EnhanceYAML(ctx, text)
	if err != nil {
		return errorResult(fmt.Sprintf("enhance: %s", err)), nil
	}
	return jsonResult(enhanceResponse(res), false), nil
}

// HandleGenerate implements the homeiq/generate tool.
func (t *Tools) HandleGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	request, _ := req.GetArguments()["request"].(string)
	if request == "" {
		return errorResult("request argument is required"), nil
	}

	res, err := t.Generator.Generate(ctx, request)
	if err != nil {
		if res == nil {
			return errorResult(err.Error()), nil
		}
		out := map[string]any{"error": err.Error(), "result": res}
		return jsonResult(out, true), nil
	}
	return jsonResult(res, false), nil
}

// HandleSchema implements the homeiq/schema tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := automation.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// documentArg returns the yaml argument, or the contents of path.
func documentArg(req mcp.CallToolRequest) (string, error) {
	args := req.GetArguments()
	if text, _ := args["yaml"].(string); text != "" {
		return text, nil
	}
	path, _ := args["path"].(string)
	if path == "" {
		return "", errors.New("yaml or path argument is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// enhanceResponse adds the step failures, which the result does not
// serialize, to the JSON view of res.
func enhanceResponse(res *enhance.Result) map[string]any {
	out := map[string]any{
		"yaml":    res.YAML,
		"applied": res.Applied,
	}
	if len(res.Skipped) > 0 {
		out["skipped"] = res.Skipped
	}
	if len(res.Failures) > 0 {
		msgs := make([]string, len(res.Failures))
		for i, f := range res.Failures {
			msgs[i] = f.Error()
		}
		out["failures"] = msgs
	}
	if len(res.Metadata) > 0 {
		out["metadata"] = res.Metadata
	}
	if res.Reverted {
		out["reverted"] = true
	}
	return out
}

func jsonResult(v any, isError bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %s", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isError,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(msg)},
		IsError: true,
	}
}
