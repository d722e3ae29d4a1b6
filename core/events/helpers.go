package events

import (
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"moneymarket/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatAddress(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func formatHeight(h uint64) string {
	return strconv.FormatUint(h, 10)
}

func formatBool(v bool) string {
	return strconv.FormatBool(v)
}
