package domain

// PayloadSource identifies this system in outgoing webhook bodies.
const PayloadSource = "odoo"

// WebhookPayload is the body POSTed to a connection's webhook endpoint for
// one sale order. The shape is part of the external contract; field order
// and names must stay stable.
type WebhookPayload struct {
	Source          string         `json:"source"`
	ConnectionID    int64          `json:"connection_id"`
	OdooDB          string         `json:"odoo_db"`
	Order           OrderPayload   `json:"order"`
	Customer        PartnerPayload `json:"customer"`
	ShippingAddress PartnerPayload `json:"shipping_address"`
	Items           []ItemPayload  `json:"items"`
}

type OrderPayload struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	State         string  `json:"state"`
	DateOrder     string  `json:"date_order"`
	WriteDate     string  `json:"write_date"`
	AmountUntaxed float64 `json:"amount_untaxed"`
	AmountTax     float64 `json:"amount_tax"`
	AmountTotal   float64 `json:"amount_total"`
	Currency      string  `json:"currency"`
	Note          string  `json:"note"`
}

type PartnerPayload struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Phone   string         `json:"phone"`
	TaxID   string         `json:"tax_id"`
	Address AddressPayload `json:"address"`
}

type AddressPayload struct {
	Street  string `json:"street"`
	Street2 string `json:"street2"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type ItemPayload struct {
	SKU             string  `json:"sku"`
	Name            string  `json:"name"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	Subtotal        float64 `json:"subtotal"`
	Total           float64 `json:"total"`
	DiscountPercent float64 `json:"discount_percent"`
	OdooProductID   int64   `json:"odoo_product_id"`
}

// BatchData holds the related records fetched once per polling cycle so
// individual order payloads are assembled without extra round trips.
type BatchData struct {
	Partners     map[int64]Record
	Products     map[int64]Record
	Templates    map[int64]Record
	LinesByOrder map[int64][]Record
}
