package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/settlement"
)

// cartFile is the input of the quote command. Products are only needed for
// lines that carry no explicit price.
type cartFile struct {
	Tier     domain.PricingTier `json:"tier"`
	Tax      *domain.TaxConfig  `json:"tax"`
	Products []domain.Product   `json:"products"`
	Items    []domain.CartLine  `json:"items"`
}

func newQuoteCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Print the totals of a cart file without touching a store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			quote, err := quoteCart(in, a.cfg.Settings())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(quote)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "cart JSON file, - reads stdin")
	return cmd
}

func quoteCart(r io.Reader, settings domain.Settings) (domain.QuoteResponse, error) {
	var cart cartFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cart); err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("decode cart: %w", err)
	}

	tier := cart.Tier
	if tier == "" {
		tier = settings.DefaultTier
	}
	if !tier.Valid() {
		return domain.QuoteResponse{}, fmt.Errorf("unknown tier %q", tier)
	}
	tax := settings.Tax
	if cart.Tax != nil {
		tax = *cart.Tax
	}

	products := make(map[string]domain.Product, len(cart.Products))
	for _, product := range cart.Products {
		products[product.ID] = product
	}

	items := make([]domain.LineItem, len(cart.Items))
	explicit := make([]bool, len(cart.Items))
	for i, line := range cart.Items {
		items[i] = domain.LineItem{
			ProductID: line.ProductID,
			Unit:      line.Unit,
			Quantity:  line.Quantity,
			Discount:  line.Discount,
		}
		if line.Price != nil {
			items[i].Price = *line.Price
			explicit[i] = true
			if _, ok := products[line.ProductID]; !ok {
				products[line.ProductID] = domain.Product{ID: line.ProductID, Name: line.ProductID}
			}
		}
	}

	priced, err := settlement.PriceLines(items, products, tier, explicit)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	for i, item := range priced {
		if err := settlement.ValidateLine(item); err != nil {
			return domain.QuoteResponse{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}

	totals := settlement.ComputeTotals(priced, tax)
	return domain.QuoteResponse{
		Items:   priced,
		Totals:  totals,
		Display: totals.Display(2),
	}, nil
}
