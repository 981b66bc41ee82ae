package entities

import (
	"github.com/JonMunkholm/tabimport/internal/core"
)

// maxDerivedTitle bounds a title taken from the description.
const maxDerivedTitle = 80

// TicketVocabulary classifies change-order status text. Rejected is checked
// before Approved so "No aprobado" does not read as approved.
var TicketVocabulary = &core.Vocabulary{
	Kind:    core.KindTicket,
	Default: "Sent",
	Rules: []core.VocabularyRule{
		{Value: "Paid", Keywords: []string{"pagad", "paid", "cobrad", "facturad", "invoiced"}},
		{Value: "Rejected", Keywords: []string{"rechazad", "rejected", "declined", "denegad", "no aprobad", "not approved", "cancel"}},
		{Value: "Approved", Keywords: []string{"aprobad", "approved", "aceptad", "accepted", "autorizad"}},
		{Value: "Pending", Keywords: []string{"pendiente", "pending", "en revision", "review", "espera", "waiting"}},
		{Value: "Sent", Keywords: []string{"enviad", "sent", "submitted", "presentad"}},
		{Value: "Draft", Keywords: []string{"borrador", "draft"}},
	},
}

func init() {
	core.Register(&core.EntityDefinition{
		Kind:     core.KindTicket,
		Label:    "Change orders",
		IDPrefix: "tkt",
		Fields: []core.FieldSpec{
			{Name: "externalRef", Label: "Ticket number", Candidates: []string{"ticket #", "ticket id", "ticket number", "co #", "co number", "change order #", "numero de orden", "folio", "numero"}},
			{Name: "title", Label: "Title", Required: true, Candidates: []string{"title", "titulo", "subject", "asunto", "change order", "orden de cambio", "ticket", "name", "nombre"}},
			{Name: "description", Label: "Description", Candidates: []string{"description", "descripcion", "detalle", "details", "scope", "alcance"}},
			{Name: "project", Label: "Project", Candidates: []string{"project", "proyecto", "obra", "job"}},
			{Name: "status", Label: "Status", Candidates: []string{"status", "estatus", "estado", "stage", "etapa"}},
			{Name: "amount", Label: "Amount", Candidates: []string{"amount", "monto", "importe", "valor", "value", "total", "cost", "costo", "price", "precio"}},
			{Name: "date", Label: "Date", Candidates: []string{"date", "fecha", "created", "creado", "submitted"}},
			{Name: "notes", Label: "Notes", Candidates: []string{"notes", "notas", "comments", "comentarios", "observaciones"}},
		},
		Vocabulary: TicketVocabulary,
		Build:      buildTicket,
	})
}

func buildTicket(c *core.RowContext) (core.Record, error) {
	description := c.Text("description")
	title := c.Text("title")
	if title == "" && description != "" {
		title = truncate(description, maxDerivedTitle)
	}
	if title == "" {
		return nil, core.Unmappable("no ticket title or description")
	}

	ref := c.Text("externalRef")
	t := &core.Ticket{
		Meta: core.Meta{
			ID:          c.DeriveID(ref),
			ExternalRef: ref,
			Notes:       c.Text("notes"),
		},
		Title:       title,
		Description: description,
		ProjectID:   core.UnknownProjectID,
		ProjectName: core.UnknownProjectName,
		Status:      c.Status("status"),
		Amount:      c.Currency("amount"),
		Date:        c.Date("date"),
	}
	if p, ok := c.Project("project"); ok {
		t.ProjectID = p.ID
		t.ProjectName = p.Name
	}
	return t, nil
}
