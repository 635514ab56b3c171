package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTxTimeout is returned when a transaction receipt does not appear
// within the receipt wait bound. The transaction may still land later.
var ErrTxTimeout = errors.New("transaction not mined within timeout")

// RevertError reports a reverted call or transaction. TxHash is empty when
// the revert was caught by the preflight call before any gas was spent.
type RevertError struct {
	TxHash string
	Reason string
}

func (e *RevertError) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("execution reverted: %s", e.Reason)
	}
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash, e.Reason)
}

// IsRevertWith reports whether err is a RevertError whose reason contains
// substr, ignoring case. Revert strings come from contract require()
// messages with inconsistent casing.
func IsRevertWith(err error, substr string) bool {
	var re *RevertError
	if !errors.As(err, &re) {
		return false
	}
	return substr != "" && strings.Contains(strings.ToLower(re.Reason), strings.ToLower(substr))
}
