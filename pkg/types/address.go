package types

// Address is the shipping address snapshot carried on an order.
type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty"`
}
