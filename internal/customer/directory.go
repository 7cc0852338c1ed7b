// Package customer attributes orders to an email-keyed identity.
package customer

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

type Directory struct {
	Store orders.Store
}

func NewDirectory(store orders.Store) *Directory { return &Directory{Store: store} }

// FindOrCreateByEmail returns the customer registered under email, creating
// it on first use. Name and phone of an existing customer are left as is.
func (d *Directory) FindOrCreateByEmail(ctx context.Context, name, email, phone string) (orders.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return orders.Customer{}, orders.Invalid("email", "required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return orders.Customer{}, orders.Invalid("email", "malformed address")
	}
	var out orders.Customer
	err := d.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.FindOrCreateCustomer(ctx, orders.Customer{
			ID:    uuid.NewString(),
			Name:  strings.TrimSpace(name),
			Email: email,
			Phone: strings.TrimSpace(phone),
		})
		return err
	})
	return out, err
}

func (d *Directory) Get(ctx context.Context, id string) (orders.Customer, error) {
	var out orders.Customer
	err := d.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.GetCustomer(ctx, id)
		return err
	})
	return out, err
}
