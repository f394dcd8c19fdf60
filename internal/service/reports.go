package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

const reportInvoiceLimit = 100000

// DailySummary aggregates the committed invoices of one store day.
func (s *Service) DailySummary(ctx context.Context, storeID string, date string) (domain.DailyReport, error) {
	from, to, err := s.dayRange(date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	storeID = s.storeOrDefault(storeID)

	invoices, err := s.repo.ListInvoices(ctx, domain.InvoiceFilter{
		StoreID: storeID,
		From:    from,
		To:      to,
		Limit:   reportInvoiceLimit,
	})
	if err != nil {
		return domain.DailyReport{}, err
	}

	report := domain.DailyReport{
		StoreID:   storeID,
		Date:      from.Format("2006-01-02"),
		ByPayment: []domain.DailyReportPayment{},
	}
	byPayment := map[domain.PaymentType]*domain.DailyReportPayment{}
	for _, inv := range invoices {
		if inv.Type == domain.InvoiceTypePurchase {
			report.Purchases++
			report.PurchaseTotal = report.PurchaseTotal.Add(inv.TotalAmount)
			continue
		}

		report.Sales++
		report.GrossSales = report.GrossSales.Add(inv.SubTotal)
		report.Discount = report.Discount.Add(inv.TotalDiscount)
		report.Tax = report.Tax.Add(inv.TaxAmount)
		report.NetSales = report.NetSales.Add(inv.TotalAmount)
		report.Profit = report.Profit.Add(inv.Profit)
		if inv.PaymentType == domain.PaymentCredit && inv.RemainingAmount.IsPositive() {
			report.CreditOutstanding = report.CreditOutstanding.Add(inv.RemainingAmount)
		}

		entry, ok := byPayment[inv.PaymentType]
		if !ok {
			entry = &domain.DailyReportPayment{PaymentType: inv.PaymentType, Total: decimal.Zero}
			byPayment[inv.PaymentType] = entry
		}
		entry.Invoices++
		entry.Total = entry.Total.Add(inv.TotalAmount)
	}

	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	sort.Slice(report.ByPayment, func(i, j int) bool {
		return report.ByPayment[i].PaymentType < report.ByPayment[j].PaymentType
	})
	return report, nil
}
