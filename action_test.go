package clawforge

import "testing"

func TestProposedActionConstructors(t *testing.T) {
	shell := ShellCommand(ShellCommandAction{Command: "echo", Args: []string{"hi"}})
	if shell.Type != ActionShellCommand || shell.Shell == nil || shell.Shell.Command != "echo" {
		t.Errorf("ShellCommand() = %+v", shell)
	}

	http := HTTPRequest(HTTPRequestAction{Method: "GET", URL: "https://example.com"})
	if http.Type != ActionHTTPRequest || http.HTTP == nil || http.HTTP.URL != "https://example.com" {
		t.Errorf("HTTPRequest() = %+v", http)
	}

	tool := ToolCall(ToolCallAction{Tool: "file_read"})
	if tool.Type != ActionToolCall || tool.Tool == nil || tool.Tool.Tool != "file_read" {
		t.Errorf("ToolCall() = %+v", tool)
	}

	llm := LLMResponse(LLMResponseAction{Text: "done"})
	if llm.Type != ActionLLMResponse || llm.LLM == nil || llm.LLM.Text != "done" {
		t.Errorf("LLMResponse() = %+v", llm)
	}
}
