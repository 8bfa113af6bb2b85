package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/aicoder/internal/runtime"
	"github.com/user/aicoder/internal/types"
)

// waitDelay bounds how long a cancelled command may keep its output pipes
// open through processes that outlived the group kill.
const waitDelay = time.Second

// Command kinds accepted by executeCommand.
const (
	KindMkdir     = "mkdir"
	KindWriteFile = "write_file"
	KindRun       = "run"
)

// CommandInput is the structured input of executeCommand.
type CommandInput struct {
	Kind    string `json:"kind"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Command string `json:"command,omitempty"`
}

// ParseCommandInput decodes a JSON CommandInput. Input that is not a JSON
// object is treated as a shell command to run.
func ParseCommandInput(raw string) (CommandInput, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		if trimmed == "" {
			return CommandInput{}, fmt.Errorf("command is required")
		}
		return CommandInput{Kind: KindRun, Command: trimmed}, nil
	}

	var in CommandInput
	if err := json.Unmarshal([]byte(trimmed), &in); err != nil {
		return CommandInput{}, fmt.Errorf("parse command input: %w", err)
	}
	in.Kind = strings.ToLower(strings.TrimSpace(in.Kind))

	switch in.Kind {
	case KindMkdir, KindWriteFile:
		if strings.TrimSpace(in.Path) == "" {
			return CommandInput{}, fmt.Errorf("%s requires a path", in.Kind)
		}
	case KindRun:
		if strings.TrimSpace(in.Command) == "" {
			return CommandInput{}, fmt.Errorf("run requires a command")
		}
	case "":
		return CommandInput{}, fmt.Errorf("command kind is required")
	default:
		return CommandInput{}, fmt.Errorf("unsupported command kind %q", in.Kind)
	}
	return in, nil
}

// Command creates directories, writes files and runs shell commands inside
// the run's workspace. In simulated runs nothing touches the filesystem.
type Command struct{}

// NewCommand creates a new executeCommand tool.
func NewCommand() *Command { return &Command{} }

func (c *Command) Name() string { return "executeCommand" }
func (c *Command) Description() string {
	return "Create a directory, write a file or run a shell command in the project workspace"
}

func (c *Command) Execute(ctx context.Context, rc *runtime.RunContext, input string) (string, error) {
	in, err := ParseCommandInput(input)
	if err != nil {
		return "", err
	}

	switch in.Kind {
	case KindMkdir:
		return c.mkdir(rc, in.Path)
	case KindWriteFile:
		return c.writeFile(rc, in.Path, in.Content)
	default:
		return c.run(ctx, rc, in.Command)
	}
}

func (c *Command) mkdir(rc *runtime.RunContext, rel string) (string, error) {
	path, err := rc.Resolve(rel)
	if err != nil {
		return "", err
	}
	rc.Notify(types.StatusCreating, "Creating directory: "+rel)
	if !rc.Simulated {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", fmt.Errorf("create directory: %w", err)
		}
	}
	rc.RecordDir(rel)
	rc.Notify(types.StatusDirectoryCreated, "Directory created: "+rel)
	return "Directory created: " + rel, nil
}

func (c *Command) writeFile(rc *runtime.RunContext, rel, content string) (string, error) {
	path, err := rc.Resolve(rel)
	if err != nil {
		return "", err
	}
	rc.Notify(types.StatusCreating, "Creating file: "+rel)
	if !rc.Simulated {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create parent directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write file: %w", err)
		}
	}
	rc.RecordFile(rel)
	rc.Notify(types.StatusFileCreated, "File created: "+rel)
	return fmt.Sprintf("File created: %s (%d bytes)", rel, len(content)), nil
}

func (c *Command) run(ctx context.Context, rc *runtime.RunContext, command string) (string, error) {
	if rc.Simulated {
		return "Simulated execution of command: " + command, nil
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = rc.WorkDir
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("command failed: %w\nOutput: %s", err, string(output))
	}
	if len(output) == 0 {
		return "Command executed successfully: " + command, nil
	}
	return string(output), nil
}
