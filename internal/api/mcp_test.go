package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jnoelg/watchbridge/internal/bridge"
	"github.com/jnoelg/watchbridge/internal/options"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return MCPDeps{Loop: env.deps.Loop, Repo: env.deps.Repo, Messages: env.store}, env
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPTool_ShowConfiguration(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	handler := mcpShowConfiguration(deps)

	result, err := handler(context.Background(), makeCallToolRequest("show_configuration", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var res bridge.ShowResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("parsing result: %v", err)
	}
	if !strings.HasPrefix(res.URL, "http://jnoelg.github.io/MySimpleWatch/configurable.html?") {
		t.Errorf("url = %s", res.URL)
	}
	if len(env.opener.urls) != 1 {
		t.Errorf("opener called %d times", len(env.opener.urls))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("show_configuration", nil))
	if !result.IsError {
		t.Fatal("expected error for a second open flow")
	}
}

func TestMCPTool_SubmitConfiguration(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	handler := mcpSubmitConfiguration(deps)

	req := makeCallToolRequest("submit_configuration", map[string]interface{}{
		"response": `{"hh-in-bold":"0","mm-in-bold":"1","locale":"en_US"}`,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var res bridge.CloseResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("parsing result: %v", err)
	}
	if res.Outcome != bridge.OutcomeSaved {
		t.Errorf("outcome = %q", res.Outcome)
	}
	if len(env.channel.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(env.channel.sent))
	}
}

func TestMCPTool_SubmitConfiguration_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSubmitConfiguration(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("submit_configuration", nil))
	if !result.IsError {
		t.Error("expected error when response is missing")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("submit_configuration", map[string]interface{}{
		"response": `{"a":1,}`,
	}))
	if !result.IsError {
		t.Error("expected error for a malformed response")
	}
}

func TestMCPTool_GetOptions(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	if err := env.store.Set(options.StorageKey, `{"locale":"it"}`); err != nil {
		t.Fatal(err)
	}

	result, err := mcpGetOptions(deps)(context.Background(), makeCallToolRequest("get_options", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != `{"options":{"locale":"it"},"source":"stored"}` {
		t.Errorf("result = %s", got)
	}
}

func TestMCPTool_ListMessages_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpListMessages(deps)(context.Background(), makeCallToolRequest("list_messages", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("result = %s, want []", got)
	}
}

func TestMCPResource_Options(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	contents, err := mcpResourceOptions(deps)(context.Background(), makeReadResourceRequest("bridge://options"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.Text != `{"options":{"hh-in-bold":"1","mm-in-bold":"0"},"source":"defaults"}` {
		t.Errorf("text = %s", tc.Text)
	}
}

func TestMCPResource_State(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if err := deps.Loop.Ready(context.Background()); err != nil {
		t.Fatal(err)
	}

	contents, err := mcpResourceState(deps)(context.Background(), makeReadResourceRequest("bridge://state"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	if !strings.Contains(tc.Text, `"ready":true`) || !strings.Contains(tc.Text, `"phase":"idle"`) {
		t.Errorf("text = %s", tc.Text)
	}
}

func TestNewMCPServer_Builds(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if NewMCPServer(deps) == nil {
		t.Fatal("nil server")
	}
}
