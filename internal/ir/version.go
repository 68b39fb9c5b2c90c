package ir

// Version constants for the record schema and engine.
const (
	// RecordVersion is the version of the journaled record shapes.
	RecordVersion = "1"

	// EngineVersion is the universe engine version.
	EngineVersion = "0.1.0"
)
