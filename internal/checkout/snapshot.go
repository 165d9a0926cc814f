package checkout

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultKey is the durable key holding the latest checkout form.
const DefaultKey = "marketplace_checkout"

// Snapshot is the checkout form as submitted.
type Snapshot struct {
	FullName    string    `json:"fullName"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
	Street      string    `json:"street"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	Zip         string    `json:"zip"`
	Country     string    `json:"country"`
	Notes       string    `json:"notes"`
	PaymentType string    `json:"paymentType"`
	OrderDate   time.Time `json:"orderDate"`
	OrderID     string    `json:"orderId,omitempty"`
}

// Canonical trims every text field and NFC-normalizes it.
func (s Snapshot) Canonical() Snapshot {
	for _, f := range []*string{
		&s.FullName, &s.Phone, &s.Email, &s.Street, &s.City,
		&s.State, &s.Zip, &s.Country, &s.Notes, &s.PaymentType,
	} {
		*f = norm.NFC.String(strings.TrimSpace(*f))
	}
	return s
}

// Address renders the delivery address on one line.
func (s Snapshot) Address() string {
	return s.Street + ", " + s.City + ", " + s.State + " " + s.Zip + ", " + s.Country
}

var paymentLabels = map[string]string{
	"credit-card":      "Credit Card (Visa/Mastercard)",
	"debit-card":       "Debit Card",
	"paypal":           "PayPal",
	"bank-transfer":    "Bank Transfer",
	"cash-on-delivery": "Cash on Delivery",
}

// PaymentLabel returns the display name of a payment type.
// Unknown types are returned unchanged.
func PaymentLabel(paymentType string) string {
	if label, ok := paymentLabels[paymentType]; ok {
		return label
	}
	return paymentType
}
