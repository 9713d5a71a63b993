package history

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/iocache"
	"github.com/huangsam/defectrisk/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	hash1 = "1111111111111111111111111111111111111111"
	hash2 = "2222222222222222222222222222222222222222"
	hash3 = "3333333333333333333333333333333333333333"
	head  = hash3
	repo  = "/repo"
)

// logFixture is newest-first, the way git log prints it.
var logFixture = strings.Join([]string{
	"--" + hash3 + "|Carol|2024-01-03T10:00:00Z|fix null pointer",
	"",
	"3\t1\ta.py",
	"",
	"--" + hash2 + "|Bob|2024-01-02T10:00:00Z|add b helpers | part 2",
	"",
	"10\t0\tb.py",
	"-\t-\tlogo.png",
	"4\t0\tvendor/lib/dep.py",
	"2\t2\t{old => src}/c.py",
	"",
	"--" + hash1 + "|Alice|2024-01-01T10:00:00Z|initial import",
	"",
	"20\t0\ta.py",
	"5\t0\tb.py",
}, "\n")

func newTestMiner() *Miner {
	return &Miner{
		Classifier: DefaultClassifier(),
		Excludes:   contract.DefaultExcludes,
	}
}

func newTestExec(client contract.GitClient, mgr contract.CacheManager) *contract.ExecContext {
	return contract.NewExecContext(client, mgr, contract.NewNopLogger(), schema.CPUDevice, 2)
}

func TestClassifierIsBugfix(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		msg  string
		want bool
	}{
		{"fix null pointer", true},
		{"Fixes crash on startup", true},
		{"BUG: wrong offset", true},
		{"hotfix for release", true},
		{"closes #42", true},
		{"handle edge case (#17)", false},
		{"see #17 for context", true},
		{"add feature flags", false},
		{"prefix handling", false},
		{"fix typo in README", false},
		{"fix lint warnings", false},
		{"Revert \"fix crash\"", false},
		{"debugger support", false},
		{"UTF-8 handling", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsBugfix(tt.msg))
		})
	}
}

func TestNewClassifierInvalidPattern(t *testing.T) {
	_, err := NewClassifier([]string{"fix("}, nil)
	assert.Error(t, err)
}

func TestParseCommitHeader(t *testing.T) {
	ev, err := parseCommitHeader("--" + hash1 + "|Alice|2024-01-01T10:00:00Z|msg with | pipe")
	require.NoError(t, err)
	assert.Equal(t, hash1, ev.CommitID)
	assert.Equal(t, "Alice", ev.Author)
	assert.Equal(t, "msg with | pipe", ev.Message)
	assert.True(t, ev.Timestamp.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))

	for _, bad := range []string{
		"--" + hash1 + "|Alice|2024-01-01T10:00:00Z",
		"--nothex|Alice|2024-01-01T10:00:00Z|msg",
		"--" + hash1 + "|Alice|yesterday|msg",
	} {
		_, err := parseCommitHeader(bad)
		assert.ErrorIs(t, err, schema.ErrCorruptCommit, bad)
	}
}

func TestResolveRenamePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a.go", "a.go"},
		{"old.go => new.go", "new.go"},
		{"src/{old => new}/file.go", "src/new/file.go"},
		{"src/{ => pkg}/file.go", "src/pkg/file.go"},
		{"src/{pkg => }/file.go", "src/file.go"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRenamePath(tt.in))
		})
	}
}

func TestParseFileStatsLine(t *testing.T) {
	path, add, del, ok := parseFileStatsLine("3\t1\ta.py")
	require.True(t, ok)
	assert.Equal(t, "a.py", path)
	assert.Equal(t, 3, add)
	assert.Equal(t, 1, del)

	_, _, _, ok = parseFileStatsLine("-\t-\tlogo.png")
	assert.False(t, ok, "binary entries are excluded")
	_, _, _, ok = parseFileStatsLine("garbage")
	assert.False(t, ok)
}

func TestMine(t *testing.T) {
	ctx := context.Background()
	client := &contract.MockGitClient{}
	client.On("ResolveRef", mock.Anything, repo, "HEAD").Return(head, nil)
	client.On("GetCommitLog", mock.Anything, repo, head, time.Time{}, time.Time{}).Return([]byte(logFixture), nil)

	events, stats, err := newTestMiner().Mine(ctx, newTestExec(client, nil), repo, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 3)

	// ascending by timestamp
	assert.Equal(t, []string{hash1, hash2, hash3}, []string{events[0].CommitID, events[1].CommitID, events[2].CommitID})

	// binary, vendored and renamed paths
	assert.Equal(t, []string{"b.py", "src/c.py"}, events[1].ChangedUnitPaths)
	assert.Equal(t, 12, events[1].LinesAdded)
	assert.Equal(t, 2, events[1].LinesRemoved)
	assert.Equal(t, "add b helpers | part 2", events[1].Message)

	assert.True(t, events[2].IsBugfix)
	assert.False(t, events[0].IsBugfix)
	assert.True(t, events[2].Touches("a.py"))
	assert.Equal(t, 4, events[2].ChurnFor("a.py"))

	assert.Equal(t, 3, stats.Commits)
	assert.Equal(t, 1, stats.BugfixCommits)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 3, stats.DistinctPaths)
	assert.Equal(t, []string{"a.py"}, stats.TopBugfixPaths)
	assert.False(t, stats.FromCache)
	client.AssertExpectations(t)
}

func TestMineSkipsCorruptCommit(t *testing.T) {
	out := strings.Join([]string{
		"--" + hash2 + "|Bob|not-a-date|fix bug",
		"1\t1\tb.py",
		"--" + hash1 + "|Alice|2024-01-01T10:00:00Z|initial",
		"1\t0\ta.py",
	}, "\n")
	client := &contract.MockGitClient{}
	client.On("ResolveRef", mock.Anything, repo, "HEAD").Return(head, nil)
	client.On("GetCommitLog", mock.Anything, repo, head, mock.Anything, mock.Anything).Return([]byte(out), nil)

	events, stats, err := newTestMiner().Mine(context.Background(), newTestExec(client, nil), repo, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, hash1, events[0].CommitID)
	assert.Equal(t, []string{"a.py"}, events[0].ChangedUnitPaths, "numstat lines of the corrupt commit are dropped")
	assert.Equal(t, 1, stats.Skipped)
}

func TestMineRepositoryAccessError(t *testing.T) {
	client := &contract.MockGitClient{}
	client.On("ResolveRef", mock.Anything, repo, "HEAD").Return("", errors.New("not a git repository"))

	_, _, err := newTestMiner().Mine(context.Background(), newTestExec(client, nil), repo, "", time.Time{}, time.Time{})
	var repoErr *schema.RepositoryAccessError
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, repo, repoErr.Repo)
}

func TestMineTimeout(t *testing.T) {
	client := &contract.MockGitClient{}
	client.On("ResolveRef", mock.Anything, repo, "HEAD").Return(head, nil)
	client.On("GetCommitLog", mock.Anything, repo, head, mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded)

	m := newTestMiner()
	m.Timeout = time.Minute
	_, _, err := m.Mine(context.Background(), newTestExec(client, nil), repo, "", time.Time{}, time.Time{})

	var timeoutErr *schema.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "mine", timeoutErr.Stage)
	assert.Equal(t, time.Minute, timeoutErr.Budget)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMineUsesCache(t *testing.T) {
	cached := cachedHistory{Events: []schema.CommitEvent{
		{CommitID: hash1, Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ChangedUnitPaths: []string{"a.py"}},
	}}
	data, err := json.Marshal(cached)
	require.NoError(t, err)

	client := &contract.MockGitClient{}
	client.On("ResolveRef", mock.Anything, repo, "HEAD").Return(head, nil)

	store := &iocache.MockCacheStore{}
	store.On("Get", mock.AnythingOfType("string")).Return(data, currentCacheVersion, time.Now().Unix(), nil)
	mgr := &iocache.MockCacheManager{}
	mgr.On("GetHistoryStore").Return(store)

	events, stats, err := newTestMiner().Mine(context.Background(), newTestExec(client, mgr), repo, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.True(t, stats.FromCache)
	client.AssertNotCalled(t, "GetCommitLog", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMineStoresOnMiss(t *testing.T) {
	client := &contract.MockGitClient{}
	client.On("ResolveRef", mock.Anything, repo, "HEAD").Return(head, nil)
	client.On("GetCommitLog", mock.Anything, repo, head, mock.Anything, mock.Anything).Return([]byte(logFixture), nil)

	store := &iocache.MockCacheStore{}
	store.On("Get", mock.AnythingOfType("string")).Return([]byte(nil), 0, int64(0), assert.AnError)
	store.On("Set", mock.AnythingOfType("string"), mock.Anything, currentCacheVersion, mock.AnythingOfType("int64")).Return(nil)
	mgr := &iocache.MockCacheManager{}
	mgr.On("GetHistoryStore").Return(store)

	_, _, err := newTestMiner().Mine(context.Background(), newTestExec(client, mgr), repo, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestMineFollowsRef(t *testing.T) {
	out := strings.Join([]string{
		"--" + hash2 + "|Bob|2024-01-02T10:00:00Z|add feature",
		"4\t0\tf.py",
		"--" + hash1 + "|Alice|2024-01-01T10:00:00Z|initial import",
		"1\t0\ta.py",
	}, "\n")
	client := &contract.MockGitClient{}
	client.On("ResolveRef", mock.Anything, repo, "feature").Return(hash2, nil)
	client.On("GetCommitLog", mock.Anything, repo, hash2, mock.Anything, mock.Anything).Return([]byte(out), nil)

	store := &iocache.MockCacheStore{}
	store.On("Get", generateCacheKey(repo, hash2, time.Time{}, time.Time{}, newTestMiner())).
		Return([]byte(nil), 0, int64(0), assert.AnError)
	store.On("Set", mock.AnythingOfType("string"), mock.Anything, currentCacheVersion, mock.AnythingOfType("int64")).Return(nil)
	mgr := &iocache.MockCacheManager{}
	mgr.On("GetHistoryStore").Return(store)

	events, _, err := newTestMiner().Mine(context.Background(), newTestExec(client, mgr), repo, "feature", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, hash2, events[1].CommitID)
	client.AssertNotCalled(t, "ResolveRef", mock.Anything, repo, "HEAD")
	client.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCheckCacheHit(t *testing.T) {
	valid, _ := json.Marshal(cachedHistory{Skipped: 2})
	tests := []struct {
		name    string
		data    []byte
		version int
		ts      int64
		err     error
		hit     bool
	}{
		{"hit", valid, currentCacheVersion, time.Now().Unix(), nil, true},
		{"version mismatch", valid, currentCacheVersion - 1, time.Now().Unix(), nil, false},
		{"stale", valid, currentCacheVersion, time.Now().Add(-8 * 24 * time.Hour).Unix(), nil, false},
		{"store error", nil, 0, 0, assert.AnError, false},
		{"bad json", []byte("nope"), currentCacheVersion, time.Now().Unix(), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &iocache.MockCacheStore{}
			store.On("Get", "k").Return(tt.data, tt.version, tt.ts, tt.err)
			got := checkCacheHit(store, "k")
			if tt.hit {
				require.NotNil(t, got)
				assert.Equal(t, 2, got.Skipped)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestGenerateCacheKey(t *testing.T) {
	m := newTestMiner()
	k1 := generateCacheKey(repo, head, time.Time{}, time.Time{}, m)
	assert.Len(t, k1, 64)
	assert.Equal(t, k1, generateCacheKey(repo, head, time.Time{}, time.Time{}, m))
	assert.NotEqual(t, k1, generateCacheKey(repo, hash2, time.Time{}, time.Time{}, m))

	m2 := newTestMiner()
	m2.PathFilter = "src/"
	assert.NotEqual(t, k1, generateCacheKey(repo, head, time.Time{}, time.Time{}, m2))
}

func TestNewClassifierDefaultsWhenEmpty(t *testing.T) {
	c, err := NewClassifier(nil, nil)
	require.NoError(t, err)
	assert.True(t, c.IsBugfix("fix crash in parser"))
	assert.Equal(t, len(contract.DefaultBugfixPatterns), len(c.patterns))
	assert.Equal(t, len(contract.DefaultBugfixExclusions), len(c.exclusions))

	m, err := NewMiner(&contract.Config{})
	require.NoError(t, err)
	assert.True(t, m.Classifier.IsBugfix("fix crash in parser"), "a bare config still labels bug fixes")
}
