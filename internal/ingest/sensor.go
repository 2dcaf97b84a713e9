// Package ingest feeds the assistant's knowledge sources: it indexes
// medical records into the vector store and keeps a per-user view of
// incoming sensor readings.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const sensorKeyPrefix = "health:sensors:"

// ErrEmptyPatient rejects readings or lookups without a patient id.
var ErrEmptyPatient = errors.New("ingest: empty patient id")

// SensorData is one reading from a connected device or sensor.
type SensorData struct {
	PatientID   string `json:"patientId"`
	Source      string `json:"source"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

// Validate checks the fields required to store a reading.
func (s SensorData) Validate() error {
	if s.PatientID == "" {
		return ErrEmptyPatient
	}
	if s.Source == "" {
		return errors.New("ingest: sensor reading without a source")
	}
	return nil
}

// SensorStore keeps sensor readings per patient, newest last.
type SensorStore struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewSensorStore builds a store on an existing Redis client.
func NewSensorStore(client *redis.Client, log zerolog.Logger) *SensorStore {
	return &SensorStore{
		client: client,
		prefix: sensorKeyPrefix,
		log:    log.With().Str("component", "sensorstore").Logger(),
	}
}

// Add appends a reading to the patient's list.
func (s *SensorStore) Add(ctx context.Context, data SensorData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("ingest: encode sensor reading: %w", err)
	}
	if err := s.client.RPush(ctx, s.prefix+data.PatientID, payload).Err(); err != nil {
		return fmt.Errorf("ingest: store sensor reading: %w", err)
	}
	s.log.Debug().Str("patient", data.PatientID).Str("source", data.Source).Msg("sensor reading stored")
	return nil
}

// ByUser returns every reading recorded for the patient, oldest first.
func (s *SensorStore) ByUser(ctx context.Context, patientID string) ([]SensorData, error) {
	if patientID == "" {
		return nil, ErrEmptyPatient
	}
	raw, err := s.client.LRange(ctx, s.prefix+patientID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ingest: load sensor readings: %w", err)
	}

	readings := make([]SensorData, 0, len(raw))
	for _, item := range raw {
		var data SensorData
		if err := json.Unmarshal([]byte(item), &data); err != nil {
			return nil, fmt.Errorf("ingest: decode sensor reading: %w", err)
		}
		readings = append(readings, data)
	}
	return readings, nil
}
