package settlement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

var (
	platinumThreshold = decimal.NewFromInt(100000)
	goldThreshold     = decimal.NewFromInt(50000)
	silverThreshold   = decimal.NewFromInt(10000)
	pointsDivisor     = decimal.NewFromInt(100)
)

// RankFor maps lifetime spend to a loyalty rank, highest threshold first.
func RankFor(totalSpent decimal.Decimal) domain.LoyaltyRank {
	switch {
	case totalSpent.GreaterThanOrEqual(platinumThreshold):
		return domain.RankPlatinum
	case totalSpent.GreaterThanOrEqual(goldThreshold):
		return domain.RankGold
	case totalSpent.GreaterThanOrEqual(silverThreshold):
		return domain.RankSilver
	default:
		return domain.RankBronze
	}
}

// LoyaltyPoints earned for one invoice: one point per full 100 of net total.
func LoyaltyPoints(netTotal decimal.Decimal) int64 {
	if !netTotal.IsPositive() {
		return 0
	}
	return netTotal.Div(pointsDivisor).Floor().IntPart()
}

// InvoiceNote is the ledger note referencing an invoice number.
func InvoiceNote(inv domain.Invoice) string {
	return fmt.Sprintf("%s invoice #%s", inv.Type, inv.Number)
}

// PostLedger applies a committed invoice to its counterparty and returns the
// party's next state plus the appended transaction, if any. The input party
// is not modified. It must run exactly once per committed invoice.
func PostLedger(party domain.Party, inv domain.Invoice, txID string) (domain.Party, *domain.AccountTransaction) {
	next := party
	amount := CreditDelta(inv.PaymentType, inv.TotalAmount, inv.PaidAmount)

	var posted *domain.AccountTransaction
	if !amount.IsZero() {
		txType := domain.TxTypeSale
		if inv.Type == domain.InvoiceTypePurchase {
			txType = domain.TxTypePurchase
		}
		entry := domain.AccountTransaction{
			ID:        txID,
			Date:      inv.Date,
			Note:      InvoiceNote(inv),
			Type:      txType,
			Amount:    amount,
			InvoiceID: inv.ID,
		}
		next = appendTransaction(next, entry)
		posted = &next.Transactions[0]
	}

	if party.Kind == domain.PartyCustomer && inv.Type == domain.InvoiceTypeSale {
		next.TotalSpent = party.TotalSpent.Add(inv.TotalAmount)
		next.LoyaltyPoints = party.LoyaltyPoints + LoyaltyPoints(inv.TotalAmount)
		next.Rank = RankFor(next.TotalSpent)
	}

	return next, posted
}

// PostPayment records money settling part of a balance: a customer paying
// the business, or the business paying a supplier. Amount must be positive.
func PostPayment(party domain.Party, amount decimal.Decimal, note string, at time.Time, txID string) (domain.Party, domain.AccountTransaction) {
	entry := domain.AccountTransaction{
		ID:     txID,
		Date:   at,
		Note:   note,
		Type:   domain.TxTypePayment,
		Amount: amount.Neg(),
	}
	next := appendTransaction(party, entry)
	return next, next.Transactions[0]
}

// OpenAccount starts a party ledger. A non-zero opening balance is recorded
// as the first transaction so the balance always equals the transaction sum.
func OpenAccount(party domain.Party, opening decimal.Decimal, at time.Time, txID string) domain.Party {
	party.Balance = decimal.Zero
	party.Transactions = nil
	if party.Kind == domain.PartyCustomer && party.Rank == "" {
		party.Rank = RankFor(party.TotalSpent)
	}
	if opening.IsZero() {
		return party
	}
	return appendTransaction(party, domain.AccountTransaction{
		ID:     txID,
		Date:   at,
		Note:   "opening balance",
		Type:   domain.TxTypeOpening,
		Amount: opening,
	})
}

// ReplayBalance sums transaction amounts oldest first. Transactions are stored
// most-recent-first.
func ReplayBalance(transactions []domain.AccountTransaction) decimal.Decimal {
	balance := decimal.Zero
	for i := len(transactions) - 1; i >= 0; i-- {
		balance = balance.Add(transactions[i].Amount)
	}
	return balance
}

func appendTransaction(party domain.Party, entry domain.AccountTransaction) domain.Party {
	entry.BalanceAfter = party.Balance.Add(entry.Amount)

	history := make([]domain.AccountTransaction, 0, len(party.Transactions)+1)
	history = append(history, entry)
	history = append(history, party.Transactions...)

	party.Balance = entry.BalanceAfter
	party.Transactions = history
	return party
}
