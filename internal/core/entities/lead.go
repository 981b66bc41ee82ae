package entities

import (
	"github.com/JonMunkholm/tabimport/internal/core"
)

// LeadVocabulary classifies lead status text. Lost is checked before
// Qualified so "No interesado" does not read as interested.
var LeadVocabulary = &core.Vocabulary{
	Kind:    core.KindLead,
	Default: "New",
	Rules: []core.VocabularyRule{
		{Value: "Won", Keywords: []string{"ganad", "won", "convert", "cliente", "closed won"}},
		{Value: "Lost", Keywords: []string{"perdid", "lost", "descartad", "no interesad", "not interested", "discarded"}},
		{Value: "Qualified", Keywords: []string{"calificad", "qualified", "interesad", "interested"}},
		{Value: "Contacted", Keywords: []string{"contactad", "contacted", "llamad", "called", "seguimiento", "follow"}},
		{Value: "New", Keywords: []string{"nuevo", "new"}},
	},
}

func init() {
	core.Register(&core.EntityDefinition{
		Kind:     core.KindLead,
		Label:    "Leads",
		IDPrefix: "lead",
		Fields: []core.FieldSpec{
			{Name: "externalRef", Label: "Lead ID", Candidates: []string{"lead id", "id lead", "record id", "contact id"}},
			{Name: "name", Label: "Name", Required: true, Candidates: []string{"full name", "nombre completo", "name", "nombre", "contact", "contacto"}},
			{Name: "company", Label: "Company", Candidates: []string{"company", "empresa", "compania", "business", "negocio", "organization"}},
			{Name: "email", Label: "Email", Candidates: []string{"email", "e-mail", "correo", "mail"}},
			{Name: "phone", Label: "Phone", Candidates: []string{"phone", "telefono", "celular", "mobile", "movil", "whatsapp", "tel"}},
			{Name: "city", Label: "City", Candidates: []string{"city", "ciudad", "municipio"}},
			{Name: "state", Label: "State", Candidates: []string{"state", "provincia", "state/province"}},
			{Name: "channel", Label: "Channel", Candidates: []string{"channel", "canal", "lead source", "source", "fuente", "origen", "medio"}},
			{Name: "status", Label: "Status", Candidates: []string{"status", "estatus", "lead status", "estado", "stage", "etapa"}},
			{Name: "estimatedValue", Label: "Estimated value", Candidates: []string{"estimated value", "valor estimado", "value", "valor", "budget", "presupuesto", "amount", "monto"}},
			{Name: "project", Label: "Project", Candidates: []string{"project", "proyecto", "interest", "interes"}},
			{Name: "notes", Label: "Notes", Candidates: []string{"notes", "notas", "comments", "comentarios", "observaciones"}},
		},
		Vocabulary: LeadVocabulary,
		Build:      buildLead,
	})
}

func buildLead(c *core.RowContext) (core.Record, error) {
	email := NormalizeEmail(c.Text("email"))
	if email != "" && !core.ValidEmail(email) {
		email = ""
		c.Degrade()
	}

	name := c.Text("name")
	if name == "" {
		name = c.Text("company")
	}
	if name == "" {
		name = email
	}
	if name == "" {
		return nil, core.Unmappable("no lead name, company or email")
	}

	ref := c.Text("externalRef")
	natural := ref
	if natural == "" {
		natural = email
	}

	l := &core.Lead{
		Meta: core.Meta{
			ID:          c.DeriveID(natural),
			ExternalRef: ref,
			Notes:       c.Text("notes"),
		},
		Name:           name,
		Company:        c.Text("company"),
		Email:          email,
		Phone:          c.Text("phone"),
		City:           c.Text("city"),
		State:          NormalizeUsState(c.Text("state")),
		Channel:        c.Text("channel"),
		Status:         c.Status("status"),
		EstimatedValue: c.Currency("estimatedValue"),
	}
	if p, ok := c.Project("project"); ok && p.ID != core.UnknownProjectID {
		l.ProjectID = p.ID
		l.ProjectName = p.Name
	}
	return l, nil
}
