package settlement

import (
	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

// CreditInput is what EvaluateCredit needs to know about a party and an
// invoice. A nil CreditLimit means the party has no limit.
type CreditInput struct {
	PartyBalance decimal.Decimal
	CreditLimit  *decimal.Decimal
	PaymentType  domain.PaymentType
	NetTotal     decimal.Decimal
	PaidAmount   decimal.Decimal
}

// CreditDelta is the part of an invoice that moves the counterparty balance.
// Only credit payments leave an outstanding amount on the ledger.
func CreditDelta(paymentType domain.PaymentType, netTotal decimal.Decimal, paid decimal.Decimal) decimal.Decimal {
	if paymentType != domain.PaymentCredit {
		return decimal.Zero
	}
	return netTotal.Sub(paid)
}

// EvaluateCredit reports the projected balance and whether it breaches the
// credit limit. It never blocks; the caller decides whether to ask for an
// override.
func EvaluateCredit(in CreditInput) domain.CreditEvaluation {
	delta := CreditDelta(in.PaymentType, in.NetTotal, in.PaidAmount)
	projected := in.PartyBalance.Add(delta)

	eval := domain.CreditEvaluation{
		PartyBalance:     in.PartyBalance,
		CreditDelta:      delta,
		ProjectedBalance: projected,
	}
	if in.CreditLimit != nil {
		limit := *in.CreditLimit
		eval.CreditLimit = &limit
		eval.LimitExceeded = projected.GreaterThan(limit)
	}
	return eval
}

// EvaluatePartyCredit is EvaluateCredit for a stored party. Suppliers never
// carry a limit.
func EvaluatePartyCredit(party domain.Party, paymentType domain.PaymentType, netTotal decimal.Decimal, paid decimal.Decimal) domain.CreditEvaluation {
	in := CreditInput{
		PartyBalance: party.Balance,
		PaymentType:  paymentType,
		NetTotal:     netTotal,
		PaidAmount:   paid,
	}
	if party.Kind == domain.PartyCustomer {
		in.CreditLimit = party.CreditLimit
	}
	return EvaluateCredit(in)
}
