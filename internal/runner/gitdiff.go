// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
)

// FileChange is one changed path in a module worktree.
type FileChange struct {
	Path   string
	Status string
}

// worktreeDiff opens the repository at root and returns its worktree status
// as a sorted change list.
func worktreeDiff(root string) ([]FileChange, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to compute worktree status: %w", err)
	}

	changes := make([]FileChange, 0, len(status))
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		code := st.Worktree
		if code == git.Unmodified {
			code = st.Staging
		}
		changes = append(changes, FileChange{Path: path, Status: string(code)})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}
