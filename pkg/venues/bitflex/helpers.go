package bitflex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"tradehook/pkg/venues/common"
)

// sign computes the HMAC-SHA256 hex signature over the canonical query
// string.
func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func mapType(t string) common.OrderType {
	switch {
	case t == "LIMIT":
		return common.OrderTypeLimit
	case strings.HasPrefix(t, "STOP"):
		return common.OrderTypeStopLoss
	case strings.HasPrefix(t, "TAKE_PROFIT"):
		return common.OrderTypeTakeProfit
	default:
		return common.OrderTypeMarket
	}
}
