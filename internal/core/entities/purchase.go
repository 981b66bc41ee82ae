package entities

import (
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// DefaultPurchaseRegion is the row filter target for purchase lines.
// Rows whose region is anything else are left out of the batch.
const DefaultPurchaseRegion = "USA"

// PurchaseVocabulary classifies purchase line categories.
var PurchaseVocabulary = &core.Vocabulary{
	Kind:    core.KindPurchase,
	Default: "Other",
	Rules: []core.VocabularyRule{
		{Value: "Subcontract", Keywords: []string{"subcontrat", "subcontract", "contratista", "contractor"}},
		{Value: "Labor", Keywords: []string{"mano de obra", "labor", "labour", "jornal"}},
		{Value: "Equipment", Keywords: []string{"equipo", "equipment", "alquiler", "rental", "herramient", "tool", "maquinaria", "machinery"}},
		{Value: "Materials", Keywords: []string{"material", "supplies", "suministro", "lumber", "madera", "concret", "cement"}},
	},
}

func init() {
	core.Register(&core.EntityDefinition{
		Kind:     core.KindPurchase,
		Label:    "Purchase lines",
		IDPrefix: "po",
		Fields: []core.FieldSpec{
			{Name: "poNumber", Label: "PO number", Candidates: []string{"po#", "po #", "po number", "po no", "purchase order", "orden de compra", "oc #", "no. oc"}},
			{Name: "line", Label: "Line", Candidates: []string{"line #", "line no", "line number", "linea", "item #"}},
			{Name: "vendor", Label: "Vendor", Candidates: []string{"vendor", "proveedor", "supplier", "seller"}},
			{Name: "description", Label: "Description", Required: true, Candidates: []string{"description", "descripcion", "item", "articulo", "product", "producto", "concepto"}},
			{Name: "category", Label: "Category", Candidates: []string{"category", "categoria", "type", "tipo", "clase"}},
			{Name: "quantity", Label: "Quantity", Candidates: []string{"quantity", "qty", "cantidad", "cant"}},
			{Name: "unitPrice", Label: "Unit price", Candidates: []string{"unit price", "precio unitario", "unit cost", "costo unitario", "price", "precio"}},
			{Name: "total", Label: "Total", Candidates: []string{"line total", "total", "amount", "monto", "importe"}},
			{Name: "region", Label: "Region", Candidates: []string{"region", "country", "pais", "area", "zona"}},
			{Name: "project", Label: "Project", Candidates: []string{"project", "proyecto", "job", "obra"}},
			{Name: "date", Label: "Date", Candidates: []string{"po date", "invoice date", "fecha factura", "date", "fecha"}},
			{Name: "notes", Label: "Notes", Candidates: []string{"notes", "notas", "comments", "comentarios", "memo"}},
		},
		Filter:     &core.RowFilter{Field: "region", Target: DefaultPurchaseRegion},
		Vocabulary: PurchaseVocabulary,
		Build:      buildPurchase,
	})
}

func buildPurchase(c *core.RowContext) (core.Record, error) {
	po := c.Text("poNumber")
	vendor := c.Text("vendor")

	description := c.Text("description")
	if description == "" && vendor != "" {
		description = vendor
		if po != "" {
			description += " PO " + po
		}
	}
	if description == "" {
		return nil, core.Unmappable("no purchase description or vendor")
	}

	ref := po
	if line := c.Text("line"); po != "" && line != "" {
		ref = po + "#" + line
	}

	quantity := 1.0
	if c.Has("quantity") {
		quantity = c.Count("quantity")
	}
	unitPrice := c.Currency("unitPrice")

	var total float64
	if c.Has("total") {
		total = c.Currency("total")
	} else {
		total = decimal.NewFromFloat(quantity).
			Mul(decimal.NewFromFloat(unitPrice)).
			Round(2).
			InexactFloat64()
	}

	p := &core.PurchaseLine{
		Meta: core.Meta{
			ID:          c.DeriveID(ref),
			ExternalRef: ref,
			Notes:       c.Text("notes"),
		},
		PONumber:    po,
		Vendor:      vendor,
		Description: description,
		Category:    c.Status("category"),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Total:       total,
		Region:      c.Text("region"),
		Date:        c.Date("date"),
	}
	if proj, ok := c.Project("project"); ok {
		p.ProjectID = proj.ID
		p.ProjectName = proj.Name
	}
	return p, nil
}
