package odoo

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
	"github.com/fairyhunter13/odoo-poller/pkg/textx"
)

var (
	lineFields = []string{
		"order_id", "product_id", "product_template_id", "product_uom_qty",
		"price_unit", "price_subtotal", "price_total", "discount", "name",
	}
	partnerFields = []string{
		"name", "email", "phone", "street", "street2", "city", "state_id",
		"zip", "country_id", "vat",
	}
	productFields  = []string{"name", "default_code", "barcode", "product_tmpl_id"}
	templateFields = []string{"name", "default_code"}
)

// Mapper batches the related-entity lookups for a set of order headers and
// shapes each order into its webhook payload.
type Mapper struct{}

// NewMapper returns the stateless order mapper.
func NewMapper() *Mapper { return &Mapper{} }

// FetchBatchData performs three batched lookups for the given order
// headers: order lines, partners (customer + shipping union), and products
// with their templates.
func (m *Mapper) FetchBatchData(ctx domain.Context, erp domain.ErpClient, orders []domain.Record) (domain.BatchData, error) {
	tracer := otel.Tracer("erp.odoo")
	ctx, span := tracer.Start(ctx, "odoo.FetchBatchData")
	defer span.End()

	batch := domain.BatchData{
		Partners:     map[int64]domain.Record{},
		Products:     map[int64]domain.Record{},
		Templates:    map[int64]domain.Record{},
		LinesByOrder: map[int64][]domain.Record{},
	}

	partnerIDs := map[int64]struct{}{}
	orderIDs := make([]int64, 0, len(orders))
	for _, order := range orders {
		orderIDs = append(orderIDs, order.Int("id"))
		if ref := order.RefVal("partner_id"); ref.Set {
			partnerIDs[ref.ID] = struct{}{}
		}
		if ref := order.RefVal("partner_shipping_id"); ref.Set {
			partnerIDs[ref.ID] = struct{}{}
		}
	}
	if len(orderIDs) == 0 {
		return batch, nil
	}

	lines, err := erp.SearchRead(ctx, "sale.order.line",
		[]any{[]any{"order_id", "in", orderIDs}}, lineFields, 0, "")
	if err != nil {
		return batch, fmt.Errorf("op=odoo.fetch_batch lines: %w", err)
	}

	productIDs := map[int64]struct{}{}
	for _, line := range lines {
		if ref := line.RefVal("order_id"); ref.Set {
			batch.LinesByOrder[ref.ID] = append(batch.LinesByOrder[ref.ID], line)
		}
		if ref := line.RefVal("product_id"); ref.Set {
			productIDs[ref.ID] = struct{}{}
		}
	}

	partners, err := erp.Read(ctx, "res.partner", keys(partnerIDs), partnerFields)
	if err != nil {
		return batch, fmt.Errorf("op=odoo.fetch_batch partners: %w", err)
	}
	for _, p := range partners {
		batch.Partners[p.Int("id")] = p
	}

	products, err := erp.Read(ctx, "product.product", keys(productIDs), productFields)
	if err != nil {
		return batch, fmt.Errorf("op=odoo.fetch_batch products: %w", err)
	}
	templateIDs := map[int64]struct{}{}
	for _, p := range products {
		batch.Products[p.Int("id")] = p
		if ref := p.RefVal("product_tmpl_id"); ref.Set {
			templateIDs[ref.ID] = struct{}{}
		}
	}

	templates, err := erp.Read(ctx, "product.template", keys(templateIDs), templateFields)
	if err != nil {
		return batch, fmt.Errorf("op=odoo.fetch_batch templates: %w", err)
	}
	for _, tpl := range templates {
		batch.Templates[tpl.Int("id")] = tpl
	}

	return batch, nil
}

func keys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// MapOrder shapes one order header plus its batch data into the outbound
// webhook document. Lines with zero quantity are dropped. When the shipping
// partner is absent the customer address is reused.
func (m *Mapper) MapOrder(order domain.Record, batch domain.BatchData, dbName string, connectionID int64) domain.WebhookPayload {
	customer := formatPartner(partnerFor(order.RefVal("partner_id"), batch))
	shippingPartner := partnerFor(order.RefVal("partner_shipping_id"), batch)
	shipping := customer
	if shippingPartner != nil {
		shipping = formatPartner(shippingPartner)
	}

	orderID := order.Int("id")
	items := make([]domain.ItemPayload, 0, len(batch.LinesByOrder[orderID]))
	for _, line := range batch.LinesByOrder[orderID] {
		qty := line.Float("product_uom_qty")
		if qty == 0 {
			continue
		}
		productRef := line.RefVal("product_id")
		var product, template domain.Record
		if productRef.Set {
			product = batch.Products[productRef.ID]
		}
		if tplRef := product.RefVal("product_tmpl_id"); tplRef.Set {
			template = batch.Templates[tplRef.ID]
		}
		items = append(items, domain.ItemPayload{
			SKU:             resolveSKU(product, template, dbName, productRef.ID),
			Name:            line.Str("name"),
			Quantity:        qty,
			UnitPrice:       line.Float("price_unit"),
			Subtotal:        line.Float("price_subtotal"),
			Total:           line.Float("price_total"),
			DiscountPercent: line.Float("discount"),
			OdooProductID:   productRef.ID,
		})
	}

	return domain.WebhookPayload{
		Source:       domain.PayloadSource,
		ConnectionID: connectionID,
		OdooDB:       dbName,
		Order: domain.OrderPayload{
			ID:            orderID,
			Name:          order.Str("name"),
			State:         order.Str("state"),
			DateOrder:     order.Str("date_order"),
			WriteDate:     order.Str("write_date"),
			AmountUntaxed: order.Float("amount_untaxed"),
			AmountTax:     order.Float("amount_tax"),
			AmountTotal:   order.Float("amount_total"),
			Currency:      order.RefVal("currency_id").Name,
			Note:          textx.SanitizeText(order.Str("note")),
		},
		Customer:        customer,
		ShippingAddress: shipping,
		Items:           items,
	}
}

func partnerFor(ref domain.Ref, batch domain.BatchData) domain.Record {
	if !ref.Set {
		return nil
	}
	if p, ok := batch.Partners[ref.ID]; ok {
		return p
	}
	return nil
}

func formatPartner(partner domain.Record) domain.PartnerPayload {
	if partner == nil {
		return domain.PartnerPayload{}
	}
	return domain.PartnerPayload{
		Name:  partner.Str("name"),
		Email: partner.Str("email"),
		Phone: partner.Str("phone"),
		TaxID: partner.Str("vat"),
		Address: domain.AddressPayload{
			Street:  partner.Str("street"),
			Street2: partner.Str("street2"),
			City:    partner.Str("city"),
			State:   partner.RefVal("state_id").Name,
			Zip:     partner.Str("zip"),
			Country: partner.RefVal("country_id").Name,
		},
	}
}

// resolveSKU picks the first non-empty of variant default_code, variant
// barcode, template default_code, then a synthetic fallback.
func resolveSKU(product, template domain.Record, dbName string, productID int64) string {
	if sku := product.Str("default_code"); sku != "" {
		return sku
	}
	if sku := product.Str("barcode"); sku != "" {
		return sku
	}
	if sku := template.Str("default_code"); sku != "" {
		return sku
	}
	return fmt.Sprintf("ODOO-%s-%d", dbName, productID)
}
