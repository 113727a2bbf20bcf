package constants

// Notification kinds emitted on the event bus
const (
	EventSampleCaptured    = "SAMPLE_CAPTURED"
	EventSampleSynced      = "SAMPLE_SYNCED"
	EventSampleSkipped     = "SAMPLE_SKIPPED"
	EventMutationRejected  = "MUTATION_REJECTED"
	EventMutationQueued    = "MUTATION_QUEUED"
	EventMutationCompleted = "MUTATION_COMPLETED"
)
