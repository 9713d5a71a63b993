// Package contract provides interfaces and shared utilities for internal architecture.
package contract

import (
	"context"
	"time"
)

// GitClient defines the read-only version-control capability the pipeline depends on.
// This allows the mining and extraction logic to be tested without needing a real git executable.
type GitClient interface {
	// --- Generic / Low-Level ---

	// Run executes a git command and returns its stdout.
	// Its use should be minimized in favor of the explicit methods below.
	Run(ctx context.Context, repoPath string, args ...string) ([]byte, error)

	// --- Time / Reference Resolution ---

	// GetRepoRoot returns the absolute path to the root of the Git repository
	// containing the given context path.
	GetRepoRoot(ctx context.Context, contextPath string) (string, error)

	// GetRepoHash returns the current HEAD commit hash of the repository.
	GetRepoHash(ctx context.Context, repoPath string) (string, error)

	// ResolveRef returns the full commit hash for a reference (branch, tag, short hash).
	ResolveRef(ctx context.Context, repoPath string, ref string) (string, error)

	// GetCommitTime returns the committer time of the specified reference.
	GetCommitTime(ctx context.Context, repoPath string, ref string) (time.Time, error)

	// --- Commit Enumeration ---

	// GetCommitLog returns the raw non-merge commit log with numstat for the ancestry
	// of ref (HEAD when empty), newest first. Zero times leave the corresponding bound open.
	GetCommitLog(ctx context.Context, repoPath string, ref string, since, until time.Time) ([]byte, error)

	// --- File State / Content ---

	// ReadFileAtCommit returns the content of path as of the given commit.
	ReadFileAtCommit(ctx context.Context, repoPath string, commitID string, path string) ([]byte, error)

	// ListFilesAtRef returns a list of all trackable files in the repository at a specific reference.
	ListFilesAtRef(ctx context.Context, repoPath string, ref string) ([]string, error)

	// --- Diff ---

	// GetChangedFilesBetweenRefs returns files that changed between baseRef and targetRef.
	GetChangedFilesBetweenRefs(ctx context.Context, repoPath string, baseRef string, targetRef string) ([]string, error)
}
