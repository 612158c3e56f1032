package stream

const (
	// AlertsTopic carries operator alerts: integrity failures and top-ups
	// that could not be credited. The alert worker consumes it and emails
	// the operator.
	AlertsTopic = "wallet.alerts"

	// SettledTopic announces settled payments. The platform's notification
	// service consumes it to push receipts; the engine only produces.
	SettledTopic = "payment.settled"
)

// Alert types.
const (
	AlertReconciliationMismatch = "reconciliation_mismatch"
	AlertTopUpRejected          = "topup_rejected"
	AlertCompensationFailure    = "compensation_failure"
)

type AlertEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	WalletID  string `json:"wallet_id,omitempty"`
	Reference string `json:"reference,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
}

type SettledEvent struct {
	TransactionID string `json:"transaction_id"`
	PayerWalletID string `json:"payer_wallet_id"`
	PayeeWalletID string `json:"payee_wallet_id"`
	Amount        int64  `json:"amount"`
	SettledAt     string `json:"settled_at"`
}
