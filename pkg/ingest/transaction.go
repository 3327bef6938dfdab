package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Action is the lending protocol operation recorded by a transaction.
type Action string

const (
	ActionDeposit     Action = "deposit"
	ActionBorrow      Action = "borrow"
	ActionRepay       Action = "repay"
	ActionRedeem      Action = "redeemunderlying"
	ActionLiquidation Action = "liquidationcall"
)

// Actions is the fixed action vocabulary, in feature order.
var Actions = []Action{
	ActionDeposit,
	ActionBorrow,
	ActionRepay,
	ActionRedeem,
	ActionLiquidation,
}

// Known reports whether a is part of the action vocabulary. Matching is case-sensitive.
func (a Action) Known() bool {
	for _, k := range Actions {
		if a == k {
			return true
		}
	}
	return false
}

// Field is an optional string attribute. Valid is false when the value was absent or null.
type Field struct {
	Value string
	Valid bool
}

func (f Field) String() string {
	return f.Value
}

// Transaction is a single raw wallet transaction record.
// Timestamp and Amount are kept raw and interpreted during feature engineering.
type Transaction struct {
	Wallet    Field
	Timestamp json.RawMessage
	Amount    json.RawMessage
	Action    Action
	Asset     Field
	Network   Field
	Protocol  Field
}

const (
	keyWallet    = "userWallet"
	keyTimestamp = "timestamp"
	keyAmount    = "amount"
	keyAction    = "action"
	keyAsset     = "assetSymbol"
	keyNetwork   = "network"
	keyProtocol  = "protocol"
)

// UnmarshalJSON decodes a transaction leniently: unknown keys are ignored and
// individual fields of an unexpected type never fail the record.
func (t *Transaction) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("transaction is not an object: %w", err)
	}

	t.Wallet = textField(m[keyWallet])
	t.Timestamp = m[keyTimestamp]
	t.Amount = m[keyAmount]
	t.Action = Action(textField(m[keyAction]).Value)
	t.Asset = textField(m[keyAsset])
	t.Network = textField(m[keyNetwork])
	t.Protocol = textField(m[keyProtocol])

	// amount is sometimes nested under actionData in exported datasets
	if t.Amount == nil {
		if ad, ok := m["actionData"]; ok {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(ad, &nested); err == nil {
				t.Amount = nested[keyAmount]
				if !t.Asset.Valid {
					t.Asset = textField(nested[keyAsset])
				}
			}
		}
	}

	return nil
}

// textField extracts a string value from raw JSON. Strings are unquoted,
// scalars keep their literal text, null or missing values are invalid.
func textField(raw json.RawMessage) Field {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Field{}
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Field{}
		}
		return Field{Value: s, Valid: true}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Field{}
	}
	return Field{Value: buf.String(), Valid: true}
}
