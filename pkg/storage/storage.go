package storage

// WalletStore groups the stores the wallet ledger mutates. All mutations for
// one account are serialized by the ledger before they reach this layer; the
// conditional writes underneath are a backstop, not the primary lock.
type WalletStore interface {
	AccountStore
	LedgerStore
	ReservationStore
}

// EngineStore defines the complete set of operations the session engine
// needs. Components should depend on the granular interfaces where they can.
type EngineStore interface {
	WalletStore
	SessionStore
	ReceiptStore
}

// Storage defines the root interface for the entire data layer.
type Storage interface {
	EngineStore
	WebSocketManager
}
