package orderbook

import (
	"strconv"
	"strings"

	"github.com/cosminimum/polycopy/internal/domain"
)

// apiBookLevel is one price level of the venue order book. Prices and sizes
// arrive as decimal strings.
type apiBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// apiBook is the venue's order-book snapshot for one asset.
type apiBook struct {
	AssetID string         `json:"asset_id"`
	Bids    []apiBookLevel `json:"bids"`
	Asks    []apiBookLevel `json:"asks"`
}

// apiOrderResult is the venue's answer to an order submission.
type apiOrderResult struct {
	Success         bool     `json:"success"`
	ErrorMsg        string   `json:"errorMsg"`
	OrderID         string   `json:"orderID"`
	Status          string   `json:"status"` // matched, live, delayed, unmatched
	MakingAmount    string   `json:"makingAmount"`
	TakingAmount    string   `json:"takingAmount"`
	TxHashes        []string `json:"transactionsHashes"`
	SizeMatched     string   `json:"sizeMatched"`
	AssociateTrades []string `json:"associateTrades"`
}

// toSubmitResult classifies the venue response into the domain result. The
// venue reports "matched" for any crossing, full or partial; the making and
// taking amounts carry the actual figures, which override the requested ones.
func (r apiOrderResult) toSubmitResult(side domain.OrderSide) domain.SubmitResult {
	res := domain.SubmitResult{
		OrderID:    r.OrderID,
		RawMessage: r.ErrorMsg,
	}
	if len(r.TxHashes) > 0 {
		res.SettlementRef = r.TxHashes[0]
	}

	if !r.Success {
		res.Status = domain.SubmitRejected
		return res
	}

	switch strings.ToLower(r.Status) {
	case "matched":
		res.Status = domain.SubmitMatched
		making := parseAmount(r.MakingAmount)
		taking := parseAmount(r.TakingAmount)
		if side == domain.OrderSideBuy {
			// Buying: we make collateral, we take shares.
			res.FilledValue = making
			res.FilledSize = taking
		} else {
			res.FilledSize = making
			res.FilledValue = taking
		}
		if res.FilledSize == 0 {
			res.FilledSize = parseAmount(r.SizeMatched)
		}
	case "live", "delayed", "unmatched":
		res.Status = domain.SubmitUnmatched
	default:
		res.Status = domain.SubmitUnmatched
	}
	return res
}

func parseAmount(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// isBalanceError reports whether a venue rejection message indicates
// insufficient funds, which is surfaced to the user distinctly from a
// liquidity failure.
func isBalanceError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not enough balance") ||
		strings.Contains(m, "insufficient") ||
		strings.Contains(m, "balance/allowance")
}
