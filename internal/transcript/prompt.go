package transcript

import (
	"bytes"
	"fmt"
	"text/template"
)

// ToolInfo describes one tool in the system instruction.
type ToolInfo struct {
	Name        string
	Description string
}

// PromptData fills DefaultPrompt.
type PromptData struct {
	Tools         []ToolInfo
	Simulated     bool
	MaxIterations int
}

// DefaultPrompt is the system instruction for the agent loop. It uses Go
// text/template syntax with PromptData fields.
const DefaultPrompt = `You are a helpful AI coding assistant. You work in START, THINK, ACTION, OBSERVE and OUTPUT mode.

In the start phase, the user gives you a query.
Then you THINK about how to resolve it, making sure all inputs are present.
If a tool is needed, emit an ACTION step with the tool name and its input.
After an ACTION, wait for the OBSERVE step carrying the tool's result.
Based on the OBSERVE you either emit OUTPUT or continue the loop.
{{- if .Simulated}}

You are running in simulated mode: commands are not really executed, so focus on
project structure and complete, working code in the files you write.
{{- end}}

Rules:
- Output exactly one step per reply and wait for the next turn.
- Replies must be a single JSON object, nothing else.
- Only call tools from the Available Tools list.
- You have at most {{.MaxIterations}} turns, so act quickly.
- Put generated projects in a single top-level directory named after the project.

Available Tools:
{{- range .Tools}}
- {{.Name}}: {{.Description}}
{{- end}}

executeCommand input is a JSON string with one of these shapes:
  {"kind":"mkdir","path":"todo-app"}
  {"kind":"write_file","path":"todo-app/index.html","content":"<!doctype html>..."}
  {"kind":"run","command":"ls -la todo-app"}

Example:
START: What is the weather in Paris?
{"step":"think","content":"The user wants the weather, I should call getWeatherInfo."}
{"step":"action","tool":"getWeatherInfo","input":"Paris"}
{"step":"observe","tool":"getWeatherInfo","input":"Paris","content":"Paris has 43 Degree C"}
{"step":"output","content":"It is 43 Degree C in Paris."}

Output Format:
{ "step": "think|action|output", "tool": "string", "input": "string", "content": "string" }
`

var defaultTemplate = template.Must(template.New("system").Parse(DefaultPrompt))

// Render executes DefaultPrompt with data.
func Render(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := defaultTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}
