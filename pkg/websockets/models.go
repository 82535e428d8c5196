package websockets

import (
	"github.com/advisr/consult-billing/pkg/accrual"
	"github.com/advisr/consult-billing/pkg/models"
)

// MessageType defines the type of a WebSocket message.
type MessageType string

const (
	// MessageTypeTick carries a live accrual update for a session.
	MessageTypeTick MessageType = "tick"

	// MessageTypeReceipt carries the final receipt when a session settles.
	MessageTypeReceipt MessageType = "receipt"
)

// Message represents a generic WebSocket message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// TickPayload is the payload for a tick message.
type TickPayload struct {
	SessionID                string         `json:"session_id"`
	ElapsedSeconds           int64          `json:"elapsed_seconds"`
	AccruedCost              int64          `json:"accrued_cost"`
	RemainingEstimateSeconds int64          `json:"remaining_estimate_seconds"`
	Signal                   accrual.Signal `json:"signal,omitempty"`
}

// ReceiptPayload is the payload for a receipt message.
type ReceiptPayload struct {
	SessionID string          `json:"session_id"`
	Receipt   *models.Receipt `json:"receipt"`
}

// TickMessage builds a tick message from an accrual update.
func TickMessage(sessionID string, u accrual.Update) Message {
	return Message{
		Type: MessageTypeTick,
		Payload: TickPayload{
			SessionID:                sessionID,
			ElapsedSeconds:           u.ElapsedSeconds,
			AccruedCost:              u.AccruedCost,
			RemainingEstimateSeconds: u.RemainingEstimateSeconds,
			Signal:                   u.Signal,
		},
	}
}

// ReceiptMessage builds the terminal message for a settled session.
func ReceiptMessage(receipt *models.Receipt) Message {
	return Message{
		Type:    MessageTypeReceipt,
		Payload: ReceiptPayload{SessionID: receipt.SessionID, Receipt: receipt},
	}
}
