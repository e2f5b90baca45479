package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message types, also used as routing keys on the direct exchange.
const (
	TypeReconcile = "requisition.reconcile"
	TypeRollover  = "category.rollover"
)

// ErrMalformedMessage marks deliveries that can never be processed.
var ErrMalformedMessage = errors.New("malformed message")

// ReconcileMessage asks the worker to reconcile one requisition. It carries
// only the id, the worker loads the requisition from the store.
type ReconcileMessage struct {
	RequisitionID int64     `json:"requisitionId"`
	ActingUser    string    `json:"actingUser,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewReconcileMessage creates a reconcile message stamped with the current time
func NewReconcileMessage(requisitionID int64, actingUser string) *ReconcileMessage {
	return &ReconcileMessage{
		RequisitionID: requisitionID,
		ActingUser:    actingUser,
		Timestamp:     time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReconcileMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReconcileMessageFromJSON decodes and checks a reconcile message.
func ReconcileMessageFromJSON(data []byte) (*ReconcileMessage, error) {
	var msg ReconcileMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.RequisitionID <= 0 {
		return nil, fmt.Errorf("%w: requisitionId must be positive, got %d", ErrMalformedMessage, msg.RequisitionID)
	}
	return &msg, nil
}

// RolloverMessage asks the worker to roll one category to its current window.
type RolloverMessage struct {
	CategoryID int64     `json:"categoryId"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewRolloverMessage(categoryID int64) *RolloverMessage {
	return &RolloverMessage{CategoryID: categoryID, Timestamp: time.Now().UTC()}
}

func (m *RolloverMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RolloverMessageFromJSON decodes and checks a rollover message.
func RolloverMessageFromJSON(data []byte) (*RolloverMessage, error) {
	var msg RolloverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.CategoryID <= 0 {
		return nil, fmt.Errorf("%w: categoryId must be positive, got %d", ErrMalformedMessage, msg.CategoryID)
	}
	return &msg, nil
}
