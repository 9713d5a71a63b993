package contract

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommitHeaderPrefix marks the start of each commit in GetCommitLog output.
const CommitHeaderPrefix = "--"

// CommitLogFormat is the pretty format used by GetCommitLog: hash, author, committer date and subject.
// The committer date is the one git log filters --since and --until on.
const CommitLogFormat = CommitHeaderPrefix + "%H|%an|%cd|%s"

// LocalGitClient implements the GitClient interface by executing the
// local 'git' binary installed on the machine.
type LocalGitClient struct{}

var _ GitClient = &LocalGitClient{} // Compile-time check

// NewLocalGitClient creates a new instance of the local Git client.
func NewLocalGitClient() *LocalGitClient {
	return &LocalGitClient{}
}

// Run executes a git command and returns its stdout output.
func (c *LocalGitClient) Run(ctx context.Context, repoPath string, args ...string) ([]byte, error) {
	fullArgs := append([]string{"-C", repoPath}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	out, err := cmd.Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stderr := strings.TrimSpace(string(exitErr.Stderr))
		return nil, fmt.Errorf("git command failed in %q: %s. If this is not a Git repository, verify the path or run 'git init'", repoPath, stderr)
	} else if err != nil {
		return nil, fmt.Errorf("git command failed: %w. Ensure Git is installed and available on your PATH", err)
	}
	return out, nil
}

// GetCommitLog implements the GitClient interface.
func (c *LocalGitClient) GetCommitLog(ctx context.Context, repoPath string, ref string, since, until time.Time) ([]byte, error) {
	if ref == "" {
		ref = "HEAD"
	}
	args := []string{
		"log", ref,
		"--no-merges",
		"--numstat",
		"--pretty=format:" + CommitLogFormat,
		"--date=iso-strict",
	}
	if !since.IsZero() {
		args = append(args, "--since="+since.Format(DateTimeFormat))
	}
	if !until.IsZero() {
		args = append(args, "--until="+until.Format(DateTimeFormat))
	}
	return c.Run(ctx, repoPath, args...)
}

// GetCommitTime implements the GitClient interface.
func (c *LocalGitClient) GetCommitTime(ctx context.Context, repoPath string, ref string) (time.Time, error) {
	args := []string{
		"log", "-n", "1",
		"--pretty=format:%cd",
		"--date=iso-strict",
		ref,
	}
	out, err := c.Run(ctx, repoPath, args...)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(string(out)))
}

// GetRepoHash implements the GitClient interface.
func (c *LocalGitClient) GetRepoHash(ctx context.Context, repoPath string) (string, error) {
	return c.ResolveRef(ctx, repoPath, "HEAD")
}

// ResolveRef implements the GitClient interface.
func (c *LocalGitClient) ResolveRef(ctx context.Context, repoPath string, ref string) (string, error) {
	out, err := c.Run(ctx, repoPath, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// GetRepoRoot implements the GitClient interface.
func (c *LocalGitClient) GetRepoRoot(ctx context.Context, contextPath string) (string, error) {
	out, err := c.Run(ctx, contextPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ReadFileAtCommit implements the GitClient interface.
func (c *LocalGitClient) ReadFileAtCommit(ctx context.Context, repoPath string, commitID string, path string) ([]byte, error) {
	return c.Run(ctx, repoPath, "show", commitID+":"+path)
}

// ListFilesAtRef implements the GitClient interface.
func (c *LocalGitClient) ListFilesAtRef(ctx context.Context, repoPath string, ref string) ([]string, error) {
	args := []string{
		"ls-tree", "-r", "-z",
		ref,
	}
	out, err := c.Run(ctx, repoPath, args...)
	if err != nil {
		return nil, err
	}
	return parseTreeBlobs(out), nil
}

// parseTreeBlobs keeps the blob entries of NUL-terminated "mode type object<TAB>path" records.
// Submodule gitlinks are commits, not files, and are dropped.
func parseTreeBlobs(out []byte) []string {
	files := []string{}
	for entry := range strings.SplitSeq(string(out), "\x00") {
		meta, path, ok := strings.Cut(entry, "\t")
		if !ok || path == "" {
			continue
		}
		if fields := strings.Fields(meta); len(fields) == 3 && fields[1] == "blob" {
			files = append(files, path)
		}
	}
	return files
}

// GetChangedFilesBetweenRefs implements the GitClient interface.
// It uses Git's ".." (two-dot) range syntax which shows commits reachable from
// targetRef but not from baseRef.
func (c *LocalGitClient) GetChangedFilesBetweenRefs(ctx context.Context, repoPath string, baseRef string, targetRef string) ([]string, error) {
	args := []string{
		"diff", "--name-only",
		baseRef + ".." + targetRef,
	}
	out, err := c.Run(ctx, repoPath, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// splitLines splits newline-separated output, returning an empty slice for empty output.
func splitLines(out []byte) []string {
	files := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(files) == 1 && files[0] == "" {
		return []string{}
	}
	return files
}
