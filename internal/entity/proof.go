package entity

import "time"

// DocumentProof anchors a document hash to a ledger transaction.
// At most one proof exists per FileHash.
type DocumentProof struct {
	ID                   int64     `json:"id"`
	FileHash             string    `json:"file_hash"`
	TransactionSignature string    `json:"transaction_signature"`
	WalletAddress        string    `json:"wallet_address"`
	DocumentUUID         *string   `json:"document_uuid,omitempty"`
	ExplorerLink         string    `json:"explorer_link"`
	CreatedAt            time.Time `json:"created_at"`
}
