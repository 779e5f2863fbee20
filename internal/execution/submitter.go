// Package execution turns sized candidate trades into signed venue orders:
// quote discovery, share rounding, venue minimums, EIP-712 signing, and
// submission with result classification.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/google/uuid"

	"github.com/cosminimum/polycopy/internal/crypto"
	"github.com/cosminimum/polycopy/internal/domain"
)

const (
	// defaultMinOrderValue is the venue's minimum order notional in dollars.
	defaultMinOrderValue = 1.0
	// defaultSizeIncrement is the venue's share size step.
	defaultSizeIncrement = 0.01
	// fixedPointScale converts dollar and share figures to the 1e6
	// fixed-point integers the exchange contract hashes.
	fixedPointScale = 1e6
)

// zeroAddress is the public taker of an open order.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// Config tunes venue constraints; zero values take the venue defaults.
type Config struct {
	MinOrderValue float64
	SizeIncrement float64
}

// Submitter prices, signs, and submits candidate trades against the order
// book. It is stateless across trades and safe for concurrent use.
type Submitter struct {
	book          domain.OrderBook
	logger        *slog.Logger
	minOrderValue float64
	sizeIncrement float64
}

// New creates a Submitter over the given order book.
func New(book domain.OrderBook, logger *slog.Logger, cfg Config) *Submitter {
	if cfg.MinOrderValue <= 0 {
		cfg.MinOrderValue = defaultMinOrderValue
	}
	if cfg.SizeIncrement <= 0 {
		cfg.SizeIncrement = defaultSizeIncrement
	}
	return &Submitter{
		book:          book,
		logger:        logger,
		minOrderValue: cfg.MinOrderValue,
		sizeIncrement: cfg.SizeIncrement,
	}
}

// Plan is the priced form of a candidate trade: the quote the order will be
// placed at and the share size after venue rounding.
type Plan struct {
	TokenID string
	Side    domain.OrderSide
	Price   float64
	Size    float64
	Value   float64
}

// Preview prices a candidate against the live book without submitting,
// returning the order that Submit would place.
func (s *Submitter) Preview(ctx context.Context, cand domain.CandidateTrade) (Plan, error) {
	best, err := s.book.BestQuote(ctx, cand.TokenID, cand.Side)
	if err != nil {
		return Plan{}, err
	}
	return s.buildPlan(cand, best)
}

// Submit prices the candidate at the current best opposing quote, signs the
// order with the delegated signer, and posts it fill-or-kill. The returned
// result is the venue's classification; an unmatched order is not an error
// here, the caller decides how to record it.
func (s *Submitter) Submit(ctx context.Context, signer *crypto.Signer, wallet string, cand domain.CandidateTrade) (domain.SubmitResult, error) {
	// Ask the venue to re-read on-chain collateral first so freshly funded
	// wallets do not bounce. Refresh failure is not fatal, the submission
	// itself will surface any real balance problem.
	if err := s.book.RefreshBalance(ctx, wallet); err != nil {
		s.logger.Warn("balance refresh failed, submitting anyway",
			"wallet", wallet, "error", err)
	}

	best, err := s.book.BestQuote(ctx, cand.TokenID, cand.Side)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	plan, err := s.buildPlan(cand, best)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	order, err := s.signOrder(signer, wallet, plan)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	s.logger.Info("submitting order",
		"user", cand.UserID,
		"token", plan.TokenID,
		"side", plan.Side,
		"price", plan.Price,
		"size", plan.Size,
		"value", plan.Value)

	result, err := s.book.SubmitOrder(ctx, order)
	if err != nil {
		return result, err
	}

	if result.Status == domain.SubmitRejected {
		return result, domain.NewCodedError(domain.CodeVenue,
			"order rejected: %s", result.RawMessage)
	}
	return result, nil
}

// buildPlan converts the candidate's sized intent into a venue-legal order at
// the quoted price. Buys round share size up and are bumped to the venue's
// minimum notional; sells round down so the order never exceeds the held
// size, and a sell too small to meet the minimum is refused rather than
// inflated.
func (s *Submitter) buildPlan(cand domain.CandidateTrade, best float64) (Plan, error) {
	plan := Plan{
		TokenID: cand.TokenID,
		Side:    cand.Side,
		Price:   best,
	}

	switch cand.Side {
	case domain.OrderSideBuy:
		shares := cand.Value / best
		shares = roundUp(shares, s.sizeIncrement)
		if shares*best < s.minOrderValue {
			shares = roundUp(s.minOrderValue/best, s.sizeIncrement)
		}
		plan.Size = shares
	case domain.OrderSideSell:
		shares := roundDown(cand.Size, s.sizeIncrement)
		if shares <= 0 {
			return Plan{}, domain.NewCodedError(domain.CodeValidation,
				"sell size %f rounds to zero", cand.Size)
		}
		if shares*best < s.minOrderValue {
			return Plan{}, domain.NewCodedError(domain.CodeValidation,
				"sell value $%.4f below venue minimum $%.2f", shares*best, s.minOrderValue)
		}
		plan.Size = shares
	default:
		return Plan{}, domain.NewCodedError(domain.CodeValidation, "unknown side %q", cand.Side)
	}

	plan.Value = plan.Size * plan.Price
	return plan, nil
}

// signOrder builds and signs the exchange order. For a BUY the maker amount
// is collateral and the taker amount is shares; a SELL is the reverse.
func (s *Submitter) signOrder(signer *crypto.Signer, wallet string, plan Plan) (domain.SignedOrder, error) {
	var makerAmt, takerAmt *big.Int
	var side int

	sharesFixed := toFixedPoint(plan.Size)
	valueFixed := toFixedPoint(plan.Value)

	if plan.Side == domain.OrderSideBuy {
		side = 0
		makerAmt, takerAmt = valueFixed, sharesFixed
	} else {
		side = 1
		makerAmt, takerAmt = sharesFixed, valueFixed
	}

	salt := newSalt()
	payload := crypto.OrderPayload{
		Salt:          salt,
		Maker:         wallet,
		Signer:        signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       plan.TokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: crypto.SigTypeGnosisSafe,
	}

	sig, err := signer.SignOrder(payload)
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("execution: sign order: %w", err)
	}

	return domain.SignedOrder{
		Salt:          salt,
		Maker:         wallet,
		Signer:        payload.Signer,
		TokenID:       plan.TokenID,
		Side:          plan.Side,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Price:         plan.Price,
		Size:          plan.Size,
		Signature:     sig,
		SignatureType: crypto.SigTypeGnosisSafe,
	}, nil
}

// newSalt derives a uint256 salt from a fresh UUID.
func newSalt() string {
	u := uuid.New()
	return new(big.Int).SetBytes(u[:]).String()
}

func toFixedPoint(x float64) *big.Int {
	return big.NewInt(int64(math.Round(x * fixedPointScale)))
}

func roundUp(x, step float64) float64 {
	return math.Ceil(x/step-1e-9) * step
}

func roundDown(x, step float64) float64 {
	return math.Floor(x/step+1e-9) * step
}
