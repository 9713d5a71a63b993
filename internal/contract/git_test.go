package contract

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfGitNotAvailable skips the test if git binary is not found in PATH
func skipIfGitNotAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git binary not found in PATH: %v", err)
	}
}

// TestMockGitClient_Run ensures the mock correctly records and returns
// expected values when its Run method is called.
func TestMockGitClient_Run(t *testing.T) {
	// 1. Setup the Mock
	mockClient := new(MockGitClient)

	// Define the expected input arguments for the mock's 'Run' method.
	const expectedRepoPath = "/path/to/repo"
	expectedArgs := []string{"log", "-1", "--oneline"}

	// Define the expected output values.
	expectedOutput := []byte("a1b2c3d commit message")
	expectedError := errors.New("mocked git error")

	// The `Run` method implementation in MockGitClient converts the inputs
	// (repoPath string, args ...string) into a single []interface{} array
	// for `m.Called()`. We must match this structure in `.On()`.

	// Prepare the exact arguments that will be passed to m.Called() inside MockGitClient.Run()
	var calledArgs []any
	ctx := context.Background()
	calledArgs = append(calledArgs, ctx, expectedRepoPath)
	for _, arg := range expectedArgs {
		calledArgs = append(calledArgs, arg)
	}

	// 2. Program the Mock Behavior
	mockClient.
		On("Run", calledArgs...).              // Expect a call with these arguments.
		Return(expectedOutput, expectedError). // Program the values to return.
		Once()                                 // Expect the call to happen exactly once.

	// 3. Execute the Code Under Test (i.e., call the mock method)
	actualOutput, actualError := mockClient.Run(ctx, expectedRepoPath, expectedArgs...)

	// 4. Assertions

	// Verify that the returned values match the programmed values.
	assert.Equal(t, expectedOutput, actualOutput, "Run should return the programmed output")
	assert.Equal(t, expectedError, actualError, "Run should return the programmed error")

	// Verify that the expected method call actually occurred.
	// This confirms that the logic within MockGitClient.Run correctly called m.Called()
	// with the expected arguments, matching the .On() setup.
	mockClient.AssertExpectations(t)
}

// TestNewLocalGitClient tests the constructor for LocalGitClient.
func TestNewLocalGitClient(t *testing.T) {
	client := NewLocalGitClient()
	assert.NotNil(t, client, "NewLocalGitClient should return a non-nil client")
	assert.IsType(t, &LocalGitClient{}, client, "NewLocalGitClient should return a LocalGitClient instance")
}

// initTestRepo creates a throwaway repository with two commits and returns its root.
func initTestRepo(t *testing.T) string {
	t.Helper()
	skipIfGitNotAvailable(t)

	dir := t.TempDir()
	git := func(env []string, args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(), env...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	write := func(name, content string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	dated := func(ts string) []string {
		return []string{"GIT_AUTHOR_DATE=" + ts, "GIT_COMMITTER_DATE=" + ts}
	}

	git(nil, "init", "-q")
	git(nil, "config", "user.email", "dev@example.com")
	git(nil, "config", "user.name", "Dev")
	git(nil, "config", "commit.gpgsign", "false")

	write("a.go", "package a\n")
	write("pkg/b.go", "package pkg\n")
	git(nil, "add", ".")
	git(dated("2024-01-01T10:00:00Z"), "commit", "-q", "-m", "initial import")

	write("a.go", "package a\n\nfunc A() {}\n")
	git(nil, "add", ".")
	git(dated("2024-01-05T10:00:00Z"), "commit", "-q", "-m", "fix crash in A")

	root, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return root
}

// TestLocalGitClient_Run tests the Run method with various scenarios.
func TestLocalGitClient_Run(t *testing.T) {
	repoRoot := initTestRepo(t)
	client := NewLocalGitClient()
	ctx := context.Background()

	tests := []struct {
		name        string
		repoPath    string
		args        []string
		expectError bool
	}{
		{
			name:        "invalid repo path",
			repoPath:    "/nonexistent/path",
			args:        []string{"status"},
			expectError: true,
		},
		{
			name:        "invalid git command",
			repoPath:    repoRoot,
			args:        []string{"invalid-command"},
			expectError: true,
		},
		{
			name:     "valid command",
			repoPath: repoRoot,
			args:     []string{"status", "--short"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Run(ctx, tt.repoPath, tt.args...)
			if tt.expectError {
				assert.Error(t, err, "Run should return an error for %s", tt.name)
			} else {
				assert.NoError(t, err, "Run should not return an error for %s", tt.name)
			}
		})
	}

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := client.Run(cctx, repoRoot, "status")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// TestLocalGitClient_GetRepoRoot tests the GetRepoRoot method.
func TestLocalGitClient_GetRepoRoot(t *testing.T) {
	repoRoot := initTestRepo(t)
	client := NewLocalGitClient()
	ctx := context.Background()

	root, err := client.GetRepoRoot(ctx, filepath.Join(repoRoot, "pkg"))
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, repoRoot, resolved)

	_, err = client.GetRepoRoot(ctx, "/nonexistent/path")
	assert.Error(t, err, "GetRepoRoot should return an error for non-git directory")
}

// TestLocalGitClient_Refs tests ResolveRef, GetRepoHash and GetCommitTime.
func TestLocalGitClient_Refs(t *testing.T) {
	repoRoot := initTestRepo(t)
	client := NewLocalGitClient()
	ctx := context.Background()

	head, err := client.GetRepoHash(ctx, repoRoot)
	require.NoError(t, err)
	assert.Len(t, head, 40)

	parent, err := client.ResolveRef(ctx, repoRoot, "HEAD~1")
	require.NoError(t, err)
	assert.NotEqual(t, head, parent)

	commitTime, err := client.GetCommitTime(ctx, repoRoot, "HEAD")
	require.NoError(t, err)
	assert.True(t, commitTime.Equal(time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC)))

	_, err = client.ResolveRef(ctx, repoRoot, "invalid-ref")
	assert.Error(t, err)
	_, err = client.GetCommitTime(ctx, repoRoot, "invalid-ref")
	assert.Error(t, err)
}

// TestLocalGitClient_GetCommitLog tests the GetCommitLog method.
func TestLocalGitClient_GetCommitLog(t *testing.T) {
	repoRoot := initTestRepo(t)
	client := NewLocalGitClient()
	ctx := context.Background()

	out, err := client.GetCommitLog(ctx, repoRoot, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	log := string(out)
	headers := 0
	for line := range strings.SplitSeq(log, "\n") {
		if strings.HasPrefix(line, CommitHeaderPrefix) {
			headers++
		}
	}
	assert.Equal(t, 2, headers)
	assert.Contains(t, log, "|fix crash in A")
	assert.Contains(t, log, "pkg/b.go")

	since := time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)
	out, err = client.GetCommitLog(ctx, repoRoot, "", since, time.Time{})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "initial import")
}

// TestLocalGitClient_Files tests file listing, reading and diffs.
func TestLocalGitClient_Files(t *testing.T) {
	repoRoot := initTestRepo(t)
	client := NewLocalGitClient()
	ctx := context.Background()

	files, err := client.ListFilesAtRef(ctx, repoRoot, "HEAD")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "pkg/b.go"}, files)

	content, err := client.ReadFileAtCommit(ctx, repoRoot, "HEAD~1", "a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(content))

	changed, err := client.GetChangedFilesBetweenRefs(ctx, repoRoot, "HEAD~1", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, changed)

	changed, err = client.GetChangedFilesBetweenRefs(ctx, repoRoot, "HEAD", "HEAD")
	require.NoError(t, err)
	assert.Empty(t, changed)

	_, err = client.ListFilesAtRef(ctx, repoRoot, "invalid-ref")
	assert.Error(t, err, "ListFilesAtRef should return an error for invalid ref")
}

// gitIn runs git in dir with extra environment, failing the test on error.
func gitIn(t *testing.T, dir string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// TestLocalGitClient_GetCommitLogRef checks that the log follows the ancestry of the given ref.
func TestLocalGitClient_GetCommitLogRef(t *testing.T) {
	repoRoot := initTestRepo(t)
	client := NewLocalGitClient()
	ctx := context.Background()

	gitIn(t, repoRoot, nil, "checkout", "-q", "-b", "feature", "HEAD~1")
	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "f.go"), []byte("package f\n"), 0o644))
	gitIn(t, repoRoot, nil, "add", ".")
	gitIn(t, repoRoot, []string{"GIT_AUTHOR_DATE=2024-01-03T10:00:00Z", "GIT_COMMITTER_DATE=2024-01-03T10:00:00Z"},
		"commit", "-q", "-m", "add f")
	gitIn(t, repoRoot, nil, "checkout", "-q", "-")

	out, err := client.GetCommitLog(ctx, repoRoot, "feature", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "|add f")
	assert.Contains(t, string(out), "|initial import")
	assert.NotContains(t, string(out), "fix crash in A", "commits outside the ref's history are excluded")

	out, err = client.GetCommitLog(ctx, repoRoot, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "fix crash in A")
	assert.NotContains(t, string(out), "|add f")
}

// TestLocalGitClient_GetCommitLogCommitterDate checks that event times agree with the --since filter.
func TestLocalGitClient_GetCommitLogCommitterDate(t *testing.T) {
	repoRoot := initTestRepo(t)
	client := NewLocalGitClient()
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "c.go"), []byte("package c\n"), 0o644))
	gitIn(t, repoRoot, nil, "add", ".")
	gitIn(t, repoRoot, []string{"GIT_AUTHOR_DATE=2023-06-01T10:00:00Z", "GIT_COMMITTER_DATE=2024-01-10T10:00:00Z"},
		"commit", "-q", "-m", "cherry-picked change")

	since := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	out, err := client.GetCommitLog(ctx, repoRoot, "", since, time.Time{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "|2024-01-10T10:00:00")
	assert.NotContains(t, string(out), "2023-06-01")
}

// TestLocalGitClient_ListFilesSkipsGitlinks checks that submodule entries are not listed as files.
func TestLocalGitClient_ListFilesSkipsGitlinks(t *testing.T) {
	repoRoot := initTestRepo(t)
	client := NewLocalGitClient()
	ctx := context.Background()

	head := gitIn(t, repoRoot, nil, "rev-parse", "HEAD")
	gitIn(t, repoRoot, nil, "update-index", "--add", "--cacheinfo", "160000,"+head+",sub")
	gitIn(t, repoRoot, nil, "commit", "-q", "-m", "add submodule")

	files, err := client.ListFilesAtRef(ctx, repoRoot, "HEAD")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "pkg/b.go"}, files)
}

func TestParseTreeBlobs(t *testing.T) {
	out := "100644 blob 1111111111111111111111111111111111111111\ta.go\x00" +
		"160000 commit 2222222222222222222222222222222222222222\tsub\x00" +
		"100644 blob 3333333333333333333333333333333333333333\tdir/with space.go\x00"
	assert.Equal(t, []string{"a.go", "dir/with space.go"}, parseTreeBlobs([]byte(out)))
	assert.Empty(t, parseTreeBlobs(nil))
}
