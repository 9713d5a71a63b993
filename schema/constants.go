package schema

// Custom string types for type safety.
type (
	// OutputMode represents the format of the output.
	OutputMode string

	// DatabaseBackend represents the database backend for caching and run tracking.
	DatabaseBackend string

	// ImbalanceStrategy represents how the training split is rebalanced.
	ImbalanceStrategy string

	// TrainingState represents the orchestrator state machine.
	TrainingState string

	// StopReason explains why a run left the training state.
	StopReason string

	// Device represents where numeric work runs.
	Device string
)

// All output modes supported.
const (
	CSVOut     OutputMode = "csv"
	TextOut    OutputMode = "text" // default
	JSONOut    OutputMode = "json"
	ParquetOut OutputMode = "parquet"
)

// All database backends supported.
const (
	SQLiteBackend     DatabaseBackend = "sqlite" // default
	MySQLBackend      DatabaseBackend = "mysql"
	PostgreSQLBackend DatabaseBackend = "postgresql"
	NoneBackend       DatabaseBackend = "none"
)

// All imbalance strategies supported.
const (
	NoImbalance         ImbalanceStrategy = "none"
	ClassWeight         ImbalanceStrategy = "class_weight" // default
	OversampleMinor     ImbalanceStrategy = "oversample"
	UndersampleMajority ImbalanceStrategy = "undersample"
)

// Training states. Converged, EarlyStopped and MaxEpochsReached are terminal successes.
const (
	InitializedState      TrainingState = "initialized"
	TrainingActiveState   TrainingState = "training"
	ConvergedState        TrainingState = "converged"
	EarlyStoppedState     TrainingState = "early_stopped"
	MaxEpochsReachedState TrainingState = "max_epochs_reached"
	FailedState           TrainingState = "failed"

	// ScoredState closes a scoring run in the run store. Training never produces it.
	ScoredState TrainingState = "scored"
)

// Stop reasons.
const (
	StopNone      StopReason = ""
	StopPatience  StopReason = "patience"
	StopConverged StopReason = "converged"
	StopMaxEpochs StopReason = "max_epochs"
	StopCanceled  StopReason = "canceled"
	StopTimeout   StopReason = "timeout"
	StopDiverged  StopReason = "diverged"
)

// Devices.
const (
	CPUDevice Device = "cpu" // default
	GPUDevice Device = "gpu"
)

// ValidOutputModes lists all valid output modes.
var ValidOutputModes = map[OutputMode]struct{}{
	CSVOut:     {},
	TextOut:    {},
	JSONOut:    {},
	ParquetOut: {},
}

// ValidDatabaseBackends lists all valid database backends.
var ValidDatabaseBackends = map[DatabaseBackend]struct{}{
	SQLiteBackend:     {},
	MySQLBackend:      {},
	PostgreSQLBackend: {},
	NoneBackend:       {},
}

// ValidImbalanceStrategies lists all valid imbalance strategies.
var ValidImbalanceStrategies = map[ImbalanceStrategy]struct{}{
	NoImbalance:         {},
	ClassWeight:         {},
	OversampleMinor:     {},
	UndersampleMajority: {},
}

// ValidDevices lists all valid devices.
var ValidDevices = map[Device]struct{}{
	CPUDevice: {},
	GPUDevice: {},
}
