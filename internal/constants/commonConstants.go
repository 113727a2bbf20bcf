package constants

type (
	SampleState string
	MutationOp  string
	// MutationOutcome is how a mutation sync attempt ended
	MutationOutcome string
	APIStatus       string
	CachePrefix     string
	ProviderTag     string
)

const (
	SampleStatePending  SampleState = "Pending"
	SampleStateSyncing  SampleState = "Syncing"
	SampleStateSynced   SampleState = "Synced"
	SampleStateRejected SampleState = "Rejected"
	SampleStateFailed   SampleState = "Failed"

	MutationOpUpdate MutationOp = "Update"
	MutationOpDelete MutationOp = "Delete"

	MutationOutcomeCompleted MutationOutcome = "completed"
	MutationOutcomeQueued    MutationOutcome = "queued"
	MutationOutcomeRejected  MutationOutcome = "rejected"
	// The mutation was resolved or replaced before the attempt ran
	MutationOutcomeSuperseded MutationOutcome = "superseded"

	APIStatusOk    APIStatus = "ok"
	APIStatusError APIStatus = "error"

	CachePrefixMatchKey CachePrefix = "MATCH_"

	ProviderGPS     ProviderTag = "gps"
	ProviderNetwork ProviderTag = "network"
	ProviderFused   ProviderTag = "fused"
	ProviderManual  ProviderTag = "manual"
)

// AllSampleStates lists states in lifecycle order.
var AllSampleStates = []SampleState{
	SampleStatePending,
	SampleStateSyncing,
	SampleStateSynced,
	SampleStateRejected,
	SampleStateFailed,
}

// MaxErrorMessageLength caps sanitized error text persisted on queue rows.
const MaxErrorMessageLength = 500
