// Copyright 2026 AgentV Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/agentv-ai/agentv/pkg/eval"
	"go.uber.org/zap"
)

// workspacePathEnv is how the workspace location reaches providers,
// scripts and code judges.
const workspacePathEnv = "AGENTV_WORKSPACE_PATH"

// workspace is the per-work-item scratch directory.
type workspace struct {
	path   string
	config *eval.WorkspaceConfig
	logger *zap.Logger
}

// setupWorkspace creates the scratch directory for one work item: clone
// the template when one is configured (empty dir otherwise), then run the
// setup script. Failures are workspace errors and are not retried.
func setupWorkspace(ctx context.Context, config *eval.WorkspaceConfig, caseID string, attempt int, logger *zap.Logger) (*workspace, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("agentv-%s-%d-*", sanitize(caseID), attempt))
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace dir: %w", err)
	}

	ws := &workspace{path: dir, config: config, logger: logger}

	if config.Template != "" {
		if err := copyTree(config.Template, dir); err != nil {
			ws.remove()
			return nil, fmt.Errorf("failed to clone workspace template %s: %w", config.Template, err)
		}
	}

	if config.SetupScript != "" {
		if err := ws.runScript(ctx, config.SetupScript); err != nil {
			ws.remove()
			return nil, fmt.Errorf("workspace setup script failed: %w", err)
		}
	}
	return ws, nil
}

// teardown runs the teardown script (best effort) and removes the dir.
func (w *workspace) teardown(ctx context.Context) {
	if w.config.TeardownScript != "" {
		if err := w.runScript(ctx, w.config.TeardownScript); err != nil {
			w.logger.Warn("workspace teardown script failed",
				zap.String("workspace", w.path), zap.Error(err))
		}
	}
	w.remove()
}

func (w *workspace) remove() {
	if err := os.RemoveAll(w.path); err != nil {
		w.logger.Warn("failed to remove workspace",
			zap.String("workspace", w.path), zap.Error(err))
	}
}

func (w *workspace) runScript(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = w.path
	cmd.Env = append(os.Environ(), workspacePathEnv+"="+w.path)
	for k, v := range w.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(out))
	}
	return nil
}

// copyTree copies a directory tree, preserving file modes. Symlinks are
// recreated as symlinks.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		targetPath := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, targetPath)
		case info.IsDir():
			if rel == "." {
				return nil
			}
			return os.MkdirAll(targetPath, info.Mode())
		default:
			return copyFile(path, targetPath, info.Mode())
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// sanitize makes a case id safe for use in a directory name.
func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
