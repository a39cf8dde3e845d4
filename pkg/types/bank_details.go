package types

import "strings"

// BankDetails holds a seller's settlement account, jsonb-serialized. A payout
// for a seller with incomplete details is created on hold instead of pending.
type BankDetails struct {
	AccountHolder string `json:"account_holder"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bank_name,omitempty"`
}

// Complete reports whether the details suffice for a transfer.
func (b BankDetails) Complete() bool {
	return strings.TrimSpace(b.AccountHolder) != "" &&
		strings.TrimSpace(b.AccountNumber) != "" &&
		strings.TrimSpace(b.IFSC) != ""
}
