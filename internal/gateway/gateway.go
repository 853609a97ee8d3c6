// Package gateway builds the redirect target for the external payment
// provider. The provider's own protocol (signing, webhooks) is its concern;
// this side only hands over a transaction id, an amount, and a currency, and
// later receives a callback carrying the same transaction id.
package gateway

import (
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

type Redirector struct {
	name     string
	baseURL  string
	currency string
}

func New(name, baseURL, currency string) *Redirector {
	return &Redirector{name: name, baseURL: baseURL, currency: currency}
}

// Name identifies the gateway on payment transaction rows.
func (r *Redirector) Name() string {
	return r.name
}

// PaymentURL returns the address the storefront redirects the customer to.
func (r *Redirector) PaymentURL(transactionID string, amount decimal.Decimal) string {
	q := url.Values{}
	q.Set("tran_id", transactionID)
	q.Set("amount", amount.StringFixed(2))
	q.Set("currency", r.currency)
	return fmt.Sprintf("%s?%s", r.baseURL, q.Encode())
}
