package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/CoreSpeed-io/zypher-agent/internal/mcp"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// SkillToolSpec defines a tool provided by a skill.
type SkillToolSpec struct {
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description" yaml:"description"`
	Schema         map[string]any `json:"schema" yaml:"schema"`
	Command        string         `json:"command" yaml:"command"`
	Script         string         `json:"script" yaml:"script"`
	TimeoutSeconds int            `json:"timeout_seconds" yaml:"timeout_seconds"`
	WorkingDir     string         `json:"cwd" yaml:"cwd"`
}

// BuildSkillTools creates ToolDescriptors for each tool a skill exposes, so
// the Runner can hand them to the Model Provider the same way it hands MCP
// tools. Each tool runs as a subprocess scoped to the skill's directory.
func BuildSkillTools(skill *SkillEntry) []mcp.ToolDescriptor {
	if skill == nil || skill.Metadata == nil || len(skill.Metadata.Tools) == 0 {
		return nil
	}

	tools := make([]mcp.ToolDescriptor, 0, len(skill.Metadata.Tools))
	for _, spec := range skill.Metadata.Tools {
		if strings.TrimSpace(spec.Name) == "" {
			continue
		}
		st := &skillTool{skill: skill, spec: spec}
		tools = append(tools, mcp.ToolDescriptor{
			Name:        spec.Name,
			Description: st.description(),
			InputSchema: st.schema(),
			Execute:     st.execute,
		})
	}
	return tools
}

type skillTool struct {
	skill *SkillEntry
	spec  SkillToolSpec
}

func (t *skillTool) description() string {
	if t.spec.Description != "" {
		return t.spec.Description
	}
	return "Skill tool: " + t.spec.Name
}

func (t *skillTool) schema() json.RawMessage {
	if t.spec.Schema == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	payload, err := json.Marshal(t.spec.Schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *skillTool) execute(ctx context.Context, params json.RawMessage) ([]models.ContentBlock, error) {
	command := strings.TrimSpace(t.spec.Command)
	script := strings.TrimSpace(t.spec.Script)
	if command == "" {
		command = "bash"
	}

	input := string(params)
	if script != "" {
		scriptPath := filepath.Join(t.skill.Path, script)
		content, err := os.ReadFile(scriptPath)
		if err != nil {
			return []models.ContentBlock{models.TextBlock(fmt.Sprintf("read script: %v", err))}, nil
		}
		input = string(content)
	}

	timeout := time.Duration(t.spec.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cwd := strings.TrimSpace(t.spec.WorkingDir)
	if cwd == "" {
		cwd = t.skill.Path
	}

	cmd := exec.CommandContext(runCtx, command, "-c", input)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"ZYPHER_TOOL_INPUT="+string(params),
		"ZYPHER_TOOL_NAME="+t.spec.Name,
		"ZYPHER_SKILL_NAME="+t.skill.Name,
		"ZYPHER_SKILL_DIR="+t.skill.Path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return []models.ContentBlock{models.TextBlock(msg)}, nil
	}
	return []models.ContentBlock{models.TextBlock(stdout.String())}, nil
}
