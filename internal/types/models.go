// internal/types/models.go
package types

import (
	"time"
)

type Status string

const (
	StatusStarting         Status = "starting"
	StatusProcessing       Status = "processing"
	StatusThinking         Status = "thinking"
	StatusExecuting        Status = "executing"
	StatusToolCompleted    Status = "tool_completed"
	StatusCreating         Status = "creating"
	StatusFileCreated      Status = "file_created"
	StatusDirectoryCreated Status = "directory_created"
	StatusFinalizing       Status = "finalizing"
	StatusOpeningEditor    Status = "opening_vscode"
	StatusCompleted        Status = "completed"
	StatusError            Status = "error"
	StatusTimeout          Status = "timeout"
	StatusUnknown          Status = "unknown"
)

// Terminal reports whether s can end a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusTimeout
}

type ToolCall struct {
	Tool  string `json:"tool"`
	Input string `json:"input"`
}

// StatusRecord is one progress snapshot of a run. SessionID carries the run id.
type StatusRecord struct {
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   RunID     `json:"sessionId"`
	ProjectName string    `json:"projectName,omitempty"`
	ProjectPath string    `json:"projectPath,omitempty"`
	ToolCall    *ToolCall `json:"toolCall,omitempty"`

	ToolResult         string     `json:"toolResult,omitempty"`
	ToolResultLength   int        `json:"toolResultLength,omitempty"`
	ToolResultArtifact ArtifactID `json:"toolResultArtifact,omitempty"`

	// Final is set on the single terminal record of a run.
	Final bool `json:"final,omitempty"`
}

type EntryType string

const (
	EntryThink   EntryType = "think"
	EntryAction  EntryType = "action"
	EntryObserve EntryType = "observe"
	EntryOutput  EntryType = "output"
	EntryError   EntryType = "error"
)

type ResultEntry struct {
	Type    EntryType `json:"type"`
	Content string    `json:"content,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	Input   string    `json:"input,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

type RunResult struct {
	RunID          RunID         `json:"runId"`
	Success        bool          `json:"success"`
	Status         Status        `json:"status"`
	Iterations     int           `json:"iterations"`
	Results        []ResultEntry `json:"results"`
	ProcessingTime int64         `json:"processingTime"`
	ProjectName    string        `json:"projectName,omitempty"`
	ProjectPath    string        `json:"projectPath,omitempty"`
	ProjectFiles   []string      `json:"projectFiles,omitempty"`
	Usage          Usage         `json:"usage"`
	Error          string        `json:"error,omitempty"`
}

// RunRecord is the persisted summary of a run.
type RunRecord struct {
	ID        RunID      `json:"id"`
	Kind      string     `json:"kind"`
	Prompt    string     `json:"prompt"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Result    *RunResult `json:"result,omitempty"`
}

type ArtifactMeta struct {
	ID        ArtifactID `json:"id"`
	RunID     RunID      `json:"run_id"`
	Tool      string     `json:"tool"`
	Size      int        `json:"size"`
	CreatedAt time.Time  `json:"created_at"`
}
