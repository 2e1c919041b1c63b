/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// maxFileBytes bounds how much of a single file is returned to the model.
const maxFileBytes = 256 * 1024

// maxListEntries bounds directory listings on large repositories.
const maxListEntries = 500

type toolHandler func(ctx context.Context, input json.RawMessage) map[string]any

type tool struct {
	definition anthropic.ToolParam
	handler    toolHandler
}

func toolError(format string, args ...any) map[string]any {
	return map[string]any{"error": fmt.Sprintf(format, args...)}
}

// resolvePath maps a repository-relative path into the working tree,
// rejecting absolute paths and anything that escapes it.
func resolvePath(workdir, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative to the repository root")
	}
	joined := filepath.Join(workdir, rel)
	within, err := filepath.Rel(workdir, joined)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working tree", rel)
	}
	return joined, nil
}

// workspaceTools builds the in-process workspace toolset rooted at workdir,
// filtered down to the allowed tool names.
func workspaceTools(workdir string, allowed []string) map[string]tool {
	all := map[string]tool{
		"read_file": {
			definition: anthropic.ToolParam{
				Name:        "read_file",
				Description: anthropic.String("Read the content of a file from the checked-out repository."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type: "object",
					Properties: map[string]any{
						"path": map[string]any{
							"type":        "string",
							"description": "Path to the file, relative to the repository root",
						},
					},
					Required: []string{"path"},
				},
			},
			handler: func(_ context.Context, input json.RawMessage) map[string]any {
				var args struct {
					Path string `json:"path"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return toolError("invalid input: %v", err)
				}
				path, err := resolvePath(workdir, args.Path)
				if err != nil {
					return toolError("%v", err)
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return toolError("reading %s: %v", args.Path, err)
				}
				truncated := false
				if len(data) > maxFileBytes {
					data = data[:maxFileBytes]
					truncated = true
				}
				return map[string]any{"content": string(data), "truncated": truncated}
			},
		},
		"write_file": {
			definition: anthropic.ToolParam{
				Name:        "write_file",
				Description: anthropic.String("Create or overwrite a file in the checked-out repository."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type: "object",
					Properties: map[string]any{
						"path": map[string]any{
							"type":        "string",
							"description": "Path to the file, relative to the repository root",
						},
						"content": map[string]any{
							"type":        "string",
							"description": "Complete new content of the file",
						},
					},
					Required: []string{"path", "content"},
				},
			},
			handler: func(_ context.Context, input json.RawMessage) map[string]any {
				var args struct {
					Path    string `json:"path"`
					Content string `json:"content"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return toolError("invalid input: %v", err)
				}
				path, err := resolvePath(workdir, args.Path)
				if err != nil {
					return toolError("%v", err)
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return toolError("creating parent directory: %v", err)
				}
				if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
					return toolError("writing %s: %v", args.Path, err)
				}
				return map[string]any{"written": args.Path, "bytes": len(args.Content)}
			},
		},
		"list_files": {
			definition: anthropic.ToolParam{
				Name:        "list_files",
				Description: anthropic.String("List files under a directory of the checked-out repository."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type: "object",
					Properties: map[string]any{
						"path": map[string]any{
							"type":        "string",
							"description": "Directory to list, relative to the repository root; defaults to the root",
						},
					},
				},
			},
			handler: func(_ context.Context, input json.RawMessage) map[string]any {
				var args struct {
					Path string `json:"path"`
				}
				if len(input) > 0 {
					if err := json.Unmarshal(input, &args); err != nil {
						return toolError("invalid input: %v", err)
					}
				}
				if args.Path == "" {
					args.Path = "."
				}
				path, err := resolvePath(workdir, args.Path)
				if err != nil {
					return toolError("%v", err)
				}

				var entries []string
				truncated := false
				err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
					if err != nil {
						return err
					}
					if d.IsDir() {
						if d.Name() == ".git" {
							return filepath.SkipDir
						}
						return nil
					}
					rel, err := filepath.Rel(workdir, p)
					if err != nil {
						return err
					}
					if len(entries) >= maxListEntries {
						truncated = true
						return filepath.SkipAll
					}
					entries = append(entries, rel)
					return nil
				})
				if err != nil {
					return toolError("listing %s: %v", args.Path, err)
				}
				return map[string]any{"files": entries, "truncated": truncated}
			},
		},
	}

	tools := make(map[string]tool, len(all))
	for name, t := range all {
		if slices.Contains(allowed, name) {
			tools[name] = t
		}
	}
	return tools
}
