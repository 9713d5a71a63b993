package contract

import (
	"github.com/huangsam/defectrisk/schema"
	"github.com/sirupsen/logrus"
)

// ExecContext carries the collaborators shared by every pipeline stage.
// It is created once by the caller, threaded through explicitly and torn down by the caller.
type ExecContext struct {
	Client  GitClient
	Manager CacheManager // may be nil
	Logger  *logrus.Logger
	Device  schema.Device
	Workers int
}

// NewExecContext resolves the requested device and fills in defaults.
// There is no accelerator backend, so a gpu request falls back to cpu with a warning.
func NewExecContext(client GitClient, mgr CacheManager, logger *logrus.Logger, device schema.Device, workers int) *ExecContext {
	if logger == nil {
		logger = NewNopLogger()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if device == schema.GPUDevice {
		logger.WithField("requested", device).Warn("no accelerator available, falling back to cpu")
	}
	return &ExecContext{
		Client:  client,
		Manager: mgr,
		Logger:  logger,
		Device:  schema.CPUDevice,
		Workers: workers,
	}
}

// HistoryStore returns the mined history cache, or nil when caching is off.
func (ec *ExecContext) HistoryStore() CacheStore {
	if ec.Manager == nil {
		return nil
	}
	return ec.Manager.GetHistoryStore()
}

// RunStore returns the run tracker, or nil when tracking is off.
func (ec *ExecContext) RunStore() RunStore {
	if ec.Manager == nil {
		return nil
	}
	return ec.Manager.GetRunStore()
}

// BlobCache returns the source blob cache, or nil when it is disabled.
func (ec *ExecContext) BlobCache() BlobCache {
	if ec.Manager == nil {
		return nil
	}
	return ec.Manager.GetBlobCache()
}
