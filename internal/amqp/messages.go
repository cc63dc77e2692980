package amqp

import (
	"encoding/json"
	"time"
)

// MonthImportedMessage announces that a month's transactions and stats were committed.
type MonthImportedMessage struct {
	RunID             string    `json:"run_id"`
	Month             string    `json:"month"`
	Policy            string    `json:"policy"`
	Categorized       int       `json:"categorized"`
	LowConfidence     int       `json:"low_confidence"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	Score             int       `json:"score"`
	Label             string    `json:"label"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewMonthImportedMessage stamps the message with the current time.
func NewMonthImportedMessage(runID, month, policy string, categorized, lowConfidence, duplicatesSkipped, score int, label string) *MonthImportedMessage {
	return &MonthImportedMessage{
		RunID:             runID,
		Month:             month,
		Policy:            policy,
		Categorized:       categorized,
		LowConfidence:     lowConfidence,
		DuplicatesSkipped: duplicatesSkipped,
		Score:             score,
		Label:             label,
		Timestamp:         time.Now(),
	}
}

func (m *MonthImportedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MonthImportedMessageFromJSON(data []byte) (*MonthImportedMessage, error) {
	var msg MonthImportedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RescoreRequestMessage asks the worker to recompute a month's stats from its stored transactions.
// Only the month key travels; the worker reads everything else from the database.
type RescoreRequestMessage struct {
	Month     string    `json:"month"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRescoreRequestMessage(month, reason string) *RescoreRequestMessage {
	return &RescoreRequestMessage{
		Month:     month,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func (m *RescoreRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RescoreRequestMessageFromJSON(data []byte) (*RescoreRequestMessage, error) {
	var msg RescoreRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
