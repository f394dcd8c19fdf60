package httpapi

import (
	"fmt"
	"strings"

	"posledger/backend/internal/domain"
)

func dailyReportToCSV(report domain.DailyReport) string {
	lines := []string{
		"section,key,value",
		fmt.Sprintf("summary,date,%s", report.Date),
		fmt.Sprintf("summary,store_id,%s", report.StoreID),
		fmt.Sprintf("summary,sales,%d", report.Sales),
		fmt.Sprintf("summary,gross_sales,%s", report.GrossSales.String()),
		fmt.Sprintf("summary,discount,%s", report.Discount.String()),
		fmt.Sprintf("summary,tax,%s", report.Tax.String()),
		fmt.Sprintf("summary,net_sales,%s", report.NetSales.String()),
		fmt.Sprintf("summary,profit,%s", report.Profit.String()),
		fmt.Sprintf("summary,credit_outstanding,%s", report.CreditOutstanding.String()),
		fmt.Sprintf("summary,purchases,%d", report.Purchases),
		fmt.Sprintf("summary,purchase_total,%s", report.PurchaseTotal.String()),
	}
	for _, payment := range report.ByPayment {
		lines = append(lines, fmt.Sprintf("payment,%s_invoices,%d", payment.PaymentType, payment.Invoices))
		lines = append(lines, fmt.Sprintf("payment,%s_total,%s", payment.PaymentType, payment.Total.String()))
	}
	return strings.Join(lines, "\n") + "\n"
}
