package contract

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockGitClient is a testify mock for the GitClient interface.
type MockGitClient struct {
	mock.Mock
}

var _ GitClient = &MockGitClient{} // Compile-time check

// Run implements the GitClient interface.
func (m *MockGitClient) Run(ctx context.Context, repoPath string, args ...string) ([]byte, error) {
	var mockArgs []any
	mockArgs = append(mockArgs, ctx, repoPath)
	for _, arg := range args {
		mockArgs = append(mockArgs, arg)
	}
	ret := m.Called(mockArgs...)
	output, _ := ret.Get(0).([]byte)
	return output, ret.Error(1)
}

// GetRepoRoot implements the GitClient interface.
func (m *MockGitClient) GetRepoRoot(ctx context.Context, contextPath string) (string, error) {
	ret := m.Called(ctx, contextPath)
	return ret.String(0), ret.Error(1)
}

// GetRepoHash implements the GitClient interface.
func (m *MockGitClient) GetRepoHash(ctx context.Context, repoPath string) (string, error) {
	ret := m.Called(ctx, repoPath)
	return ret.String(0), ret.Error(1)
}

// ResolveRef implements the GitClient interface.
func (m *MockGitClient) ResolveRef(ctx context.Context, repoPath string, ref string) (string, error) {
	ret := m.Called(ctx, repoPath, ref)
	return ret.String(0), ret.Error(1)
}

// GetCommitTime implements the GitClient interface.
func (m *MockGitClient) GetCommitTime(ctx context.Context, repoPath string, ref string) (time.Time, error) {
	ret := m.Called(ctx, repoPath, ref)
	t, _ := ret.Get(0).(time.Time)
	return t, ret.Error(1)
}

// GetCommitLog implements the GitClient interface.
func (m *MockGitClient) GetCommitLog(ctx context.Context, repoPath string, ref string, since, until time.Time) ([]byte, error) {
	ret := m.Called(ctx, repoPath, ref, since, until)
	output, _ := ret.Get(0).([]byte)
	return output, ret.Error(1)
}

// ReadFileAtCommit implements the GitClient interface.
func (m *MockGitClient) ReadFileAtCommit(ctx context.Context, repoPath string, commitID string, path string) ([]byte, error) {
	ret := m.Called(ctx, repoPath, commitID, path)
	content, _ := ret.Get(0).([]byte)
	return content, ret.Error(1)
}

// ListFilesAtRef implements the GitClient interface.
func (m *MockGitClient) ListFilesAtRef(ctx context.Context, repoPath string, ref string) ([]string, error) {
	ret := m.Called(ctx, repoPath, ref)
	files, _ := ret.Get(0).([]string)
	return files, ret.Error(1)
}

// GetChangedFilesBetweenRefs implements the GitClient interface.
func (m *MockGitClient) GetChangedFilesBetweenRefs(ctx context.Context, repoPath string, baseRef string, targetRef string) ([]string, error) {
	ret := m.Called(ctx, repoPath, baseRef, targetRef)
	files, _ := ret.Get(0).([]string)
	return files, ret.Error(1)
}
