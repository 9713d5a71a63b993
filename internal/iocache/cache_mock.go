package iocache

import (
	"time"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
	"github.com/stretchr/testify/mock"
)

// MockCacheManager is a mock implementation of CacheManager for testing.
type MockCacheManager struct {
	mock.Mock
}

var _ contract.CacheManager = &MockCacheManager{} // Compile-time check

// GetHistoryStore implements the CacheManager interface.
func (m *MockCacheManager) GetHistoryStore() contract.CacheStore {
	ret := m.Called()
	store, _ := ret.Get(0).(contract.CacheStore)
	return store
}

// GetRunStore implements the CacheManager interface.
func (m *MockCacheManager) GetRunStore() contract.RunStore {
	ret := m.Called()
	store, _ := ret.Get(0).(contract.RunStore)
	return store
}

// GetBlobCache implements the CacheManager interface.
func (m *MockCacheManager) GetBlobCache() contract.BlobCache {
	ret := m.Called()
	cache, _ := ret.Get(0).(contract.BlobCache)
	return cache
}

// MockCacheStore is a mock implementation of CacheStore for testing.
type MockCacheStore struct {
	mock.Mock
}

var _ contract.CacheStore = &MockCacheStore{} // Compile-time check

// Get implements the CacheStore interface.
func (m *MockCacheStore) Get(key string) ([]byte, int, int64, error) {
	args := m.Called(key)
	data, _ := args.Get(0).([]byte)
	return data, args.Int(1), args.Get(2).(int64), args.Error(3)
}

// Set implements the CacheStore interface.
func (m *MockCacheStore) Set(key string, data []byte, version int, ts int64) error {
	args := m.Called(key, data, version, ts)
	return args.Error(0)
}

// Close implements the CacheStore interface.
func (m *MockCacheStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// GetStatus implements the CacheStore interface.
func (m *MockCacheStore) GetStatus() (schema.CacheStatus, error) {
	args := m.Called()
	return args.Get(0).(schema.CacheStatus), args.Error(1)
}

// MockRunStore is a mock implementation of RunStore for testing.
type MockRunStore struct {
	mock.Mock
}

var _ contract.RunStore = &MockRunStore{} // Compile-time check

// BeginRun implements the RunStore interface.
func (m *MockRunStore) BeginRun(runID, kind, repoPath string, startTime time.Time, configParams map[string]any) error {
	args := m.Called(runID, kind, repoPath, startTime, configParams)
	return args.Error(0)
}

// RecordEpoch implements the RunStore interface.
func (m *MockRunStore) RecordEpoch(runID string, metrics schema.EpochMetrics) error {
	args := m.Called(runID, metrics)
	return args.Error(0)
}

// EndRun implements the RunStore interface.
func (m *MockRunStore) EndRun(runID string, endTime time.Time, result schema.TrainingResult) error {
	args := m.Called(runID, endTime, result)
	return args.Error(0)
}

// RecordScores implements the RunStore interface.
func (m *MockRunStore) RecordScores(runID string, scoredAt time.Time, scores []schema.RiskScore) error {
	args := m.Called(runID, scoredAt, scores)
	return args.Error(0)
}

// GetAllRuns implements the RunStore interface.
func (m *MockRunStore) GetAllRuns() ([]schema.RunRecord, error) {
	args := m.Called()
	runs, _ := args.Get(0).([]schema.RunRecord)
	return runs, args.Error(1)
}

// GetAllEpochs implements the RunStore interface.
func (m *MockRunStore) GetAllEpochs() ([]schema.EpochRecord, error) {
	args := m.Called()
	epochs, _ := args.Get(0).([]schema.EpochRecord)
	return epochs, args.Error(1)
}

// GetAllScores implements the RunStore interface.
func (m *MockRunStore) GetAllScores() ([]schema.ScoreRecord, error) {
	args := m.Called()
	scores, _ := args.Get(0).([]schema.ScoreRecord)
	return scores, args.Error(1)
}

// GetStatus implements the RunStore interface.
func (m *MockRunStore) GetStatus() (schema.RunStatus, error) {
	args := m.Called()
	return args.Get(0).(schema.RunStatus), args.Error(1)
}

// Close implements the RunStore interface.
func (m *MockRunStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockBlobCache is a mock implementation of BlobCache for testing.
type MockBlobCache struct {
	mock.Mock
}

var _ contract.BlobCache = &MockBlobCache{} // Compile-time check

// GetBlob implements the BlobCache interface.
func (m *MockBlobCache) GetBlob(commitID, path string) ([]byte, bool) {
	args := m.Called(commitID, path)
	data, _ := args.Get(0).([]byte)
	return data, args.Bool(1)
}

// PutBlob implements the BlobCache interface.
func (m *MockBlobCache) PutBlob(commitID, path string, content []byte) error {
	args := m.Called(commitID, path, content)
	return args.Error(0)
}

// Close implements the BlobCache interface.
func (m *MockBlobCache) Close() error {
	args := m.Called()
	return args.Error(0)
}
