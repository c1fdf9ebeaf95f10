package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcheckout "github.com/square/square-go-sdk/checkout"
)

const defaultCurrency = "USD"

// PaymentLinkParams describes a quick pay checkout for one order.
type PaymentLinkParams struct {
	OrderID        string
	Name           string
	AmountMinor    int64
	Currency       string
	BuyerEmail     string
	RedirectURL    string
	IdempotencyKey string
}

// PaymentLink keeps the Square order id that payment webhooks reference.
type PaymentLink struct {
	ID      string
	URL     string
	OrderID string
}

// request builds the SDK payload. The order id rides in the payment note so
// the dashboard shows it next to the charge.
func (p PaymentLinkParams) request(locationID, idempotencyKey string) *sqcheckout.CreatePaymentLinkRequest {
	currency := sq.Currency(strings.ToUpper(strings.TrimSpace(p.Currency)))
	if currency == "" {
		currency = defaultCurrency
	}
	amount := p.AmountMinor

	req := &sqcheckout.CreatePaymentLinkRequest{
		IdempotencyKey: optional(idempotencyKey),
		PaymentNote:    optional(p.OrderID),
		QuickPay: &sq.QuickPay{
			Name:       p.Name,
			LocationID: locationID,
			PriceMoney: &sq.Money{Amount: &amount, Currency: &currency},
		},
	}
	if url := optional(p.RedirectURL); url != nil {
		req.CheckoutOptions = &sq.CheckoutOptions{RedirectURL: url}
	}
	if email := optional(p.BuyerEmail); email != nil {
		req.PrePopulatedData = &sq.PrePopulatedData{BuyerEmail: email}
	}
	return req
}

// optional maps blank strings to an absent field.
func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
