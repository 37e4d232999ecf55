// Package archive persists telemetry history and finalized session
// summaries to ClickHouse for reporting. It is a sink only; nothing in the
// session path reads it back.
package archive

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"shirodhara-backend/internal/models"
)

type ClickHouseArchive struct {
	conn driver.Conn
}

// NewClickHouseArchive connects and ensures the schema exists.
func NewClickHouseArchive(addr, database, username, password string) (*ClickHouseArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	log.Printf("Archive: connected to ClickHouse at %s", addr)

	a := &ClickHouseArchive{conn: conn}
	if err := a.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

// InitSchema creates the reporting tables if they do not exist.
func (a *ClickHouseArchive) InitSchema() error {
	ctx := context.Background()
	for _, tableSQL := range AllTables() {
		if err := a.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Archive: schema initialized")
	return nil
}

// SaveTelemetry appends one sample to the history table.
func (a *ClickHouseArchive) SaveTelemetry(ctx context.Context, patientID, sessionID string, sample *models.TelemetrySample) error {
	query := `
		INSERT INTO session_telemetry (timestamp, patient_id, session_id, device_id, pulse, spo2, flow_state, temperature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := a.conn.Exec(ctx, query,
		sample.Timestamp,
		patientID,
		sessionID,
		sample.DeviceID,
		sample.Pulse,
		sample.SpO2,
		sample.FlowState,
		sample.Temperature,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry sample: %w", err)
	}
	return nil
}

// SaveSummary writes the finalized session record.
func (a *ClickHouseArchive) SaveSummary(ctx context.Context, patientID, sessionID, deviceID string, summary *models.SessionSummary) error {
	query := `
		INSERT INTO session_summaries
			(session_id, patient_id, device_id, end_time, duration_seconds, avg_pulse, avg_spo2,
			 max_temperature, relaxation_index, relaxation_state, relaxation_confidence, alerts, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := a.conn.Exec(ctx, query,
		sessionID,
		patientID,
		deviceID,
		summary.EndTime,
		int64(summary.DurationSeconds),
		summary.AvgPulse,
		summary.AvgSpO2,
		summary.MaxTemperature,
		summary.RelaxationIndex,
		summary.RelaxationState,
		summary.RelaxationConfidence,
		strings.Join(summary.Alerts, "; "),
		summary.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session summary: %w", err)
	}
	log.Printf("Archive: saved summary for session %s (%s)", sessionID, summary.RelaxationState)
	return nil
}

// Close closes the ClickHouse connection.
func (a *ClickHouseArchive) Close() error {
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		log.Println("Archive: ClickHouse connection closed")
	}
	return nil
}
