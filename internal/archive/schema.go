package archive

// SQL schemas for the reporting tables.

const (
	// SessionTelemetryTableSQL holds every telemetry sample long-term; the
	// live store only keeps sessions hot.
	SessionTelemetryTableSQL = `
		CREATE TABLE IF NOT EXISTS session_telemetry (
			timestamp DateTime64(3),
			patient_id String,
			session_id String,
			device_id String,
			pulse Nullable(Float64),
			spo2 Nullable(Float64),
			flow_state Nullable(Float64),
			temperature Nullable(Float64)
		) ENGINE = MergeTree()
		ORDER BY (session_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// SessionSummariesTableSQL keeps one row per finalized session; a
	// re-finalized write (retry after a failed archive) replaces the row.
	SessionSummariesTableSQL = `
		CREATE TABLE IF NOT EXISTS session_summaries (
			session_id String,
			patient_id String,
			device_id String,
			end_time DateTime64(3),
			duration_seconds Int64,
			avg_pulse Float64,
			avg_spo2 Float64,
			max_temperature Float64,
			relaxation_index Float64,
			relaxation_state String,
			relaxation_confidence Float64,
			alerts String,
			notes String
		) ENGINE = ReplacingMergeTree(end_time)
		ORDER BY session_id
	`
)

// AllTables returns all table creation statements.
func AllTables() []string {
	return []string{
		SessionTelemetryTableSQL,
		SessionSummariesTableSQL,
	}
}
