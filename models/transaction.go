package models

import "github.com/shruggr/chainindex/kvstore"

// TxInput references the output a transaction spends.
type TxInput struct {
	PrevTxID kvstore.Hash
	PrevVout uint32
}

// TxOutput is one spendable output of a transaction.
type TxOutput struct {
	Value int64 // satoshis
}

// Transaction is a decoded transaction plus the decorations the Block
// Applier attaches while a block is being applied: height, timestamp, and resolved
// input values are explicit optional fields here rather than properties
// bolted onto an untyped object.
type Transaction struct {
	ID      kvstore.Hash
	Inputs  []TxInput
	Outputs []TxOutput
	Raw     []byte

	// Decorations, set by the Block Applier before serial handlers run so
	// that later serial handlers (and the registry's per-block caches) can
	// see them. Nil/empty until set.
	Height      *uint32
	Timestamp   *uint32
	InputValues []int64 // parallel to Inputs; satoshi value of each spent output
}
