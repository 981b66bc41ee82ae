package entities

import (
	"github.com/JonMunkholm/tabimport/internal/core"
)

// Project defaults applied when a column resolves to nothing.
const (
	DefaultProjectAddress   = "Sin dirección"
	DefaultProjectLaborRate = 45.0
)

// ProjectVocabulary classifies project status text. Terminal states come
// first so "Ganado - Cerrado" is Won, not Completed.
var ProjectVocabulary = &core.Vocabulary{
	Kind:    core.KindProject,
	Default: "Draft",
	Rules: []core.VocabularyRule{
		{Value: "Won", Keywords: []string{"ganad", "won", "adjudic", "awarded"}},
		{Value: "Lost", Keywords: []string{"perdid", "lost", "rechaz", "cancel"}},
		{Value: "Completed", Keywords: []string{"complet", "terminad", "finaliz", "cerrad", "closed"}},
		{Value: "Ongoing", Keywords: []string{"ejecuci", "en curso", "ongoing", "in progress", "progres"}},
		{Value: "Sent", Keywords: []string{"enviad", "sent", "cotizad", "quoted", "presentad", "submitted"}},
		{Value: "Draft", Keywords: []string{"borrador", "draft"}},
	},
}

func init() {
	core.Register(&core.EntityDefinition{
		Kind:     core.KindProject,
		Label:    "Projects",
		IDPrefix: "prj",
		Fields: []core.FieldSpec{
			{Name: "externalRef", Label: "Project code", Candidates: []string{"project code", "codigo", "code", "project id", "id proyecto", "project #", "job #", "job number"}},
			{Name: "name", Label: "Name", Required: true, Candidates: []string{"project name", "nombre del proyecto", "nombre proyecto", "proyecto", "project", "obra", "name", "nombre", "title", "titulo"}},
			{Name: "client", Label: "Client", Candidates: []string{"client", "cliente", "customer", "owner", "propietario", "dueno"}},
			{Name: "address", Label: "Address", Candidates: []string{"address", "direccion", "ubicacion", "location", "site"}},
			{Name: "region", Label: "Region", Candidates: []string{"region", "area", "zona", "country", "pais"}},
			{Name: "status", Label: "Status", Candidates: []string{"status", "estatus", "estado", "stage", "etapa"}},
			{Name: "contractValue", Label: "Contract value", Candidates: []string{"contract value", "valor contrato", "valor del contrato", "contract", "contrato", "valor", "value", "amount", "monto", "budget", "presupuesto"}},
			{Name: "laborRate", Label: "Labor rate", Candidates: []string{"labor rate", "tarifa mano de obra", "tarifa", "hourly rate", "rate"}},
			{Name: "dueDate", Label: "Due date", Candidates: []string{"due date", "fecha de entrega", "fecha entrega", "deadline", "fecha limite", "end date", "fecha fin"}},
			{Name: "createdAt", Label: "Created", Candidates: []string{"created", "creado", "fecha de creacion", "start date", "fecha inicio"}},
			{Name: "notes", Label: "Notes", Candidates: []string{"notes", "notas", "comments", "comentarios", "observaciones"}},
		},
		Vocabulary: ProjectVocabulary,
		Build:      buildProject,
	})
}

func buildProject(c *core.RowContext) (core.Record, error) {
	name := c.Text("name")
	if name == "" {
		name = c.Text("client")
	}
	if name == "" {
		return nil, core.Unmappable("no project name or client")
	}

	ref := c.Text("externalRef")
	p := &core.Project{
		Meta: core.Meta{
			ID:          c.DeriveID(ref),
			ExternalRef: ref,
			Notes:       c.Text("notes"),
			CreatedAt:   c.OptionalDate("createdAt"),
		},
		Name:          name,
		Client:        c.Text("client"),
		Address:       c.TextOr("address", DefaultProjectAddress),
		Region:        c.Text("region"),
		Status:        c.Status("status"),
		ContractValue: c.Currency("contractValue"),
		LaborRate:     c.CurrencyOr("laborRate", DefaultProjectLaborRate),
		DueDate:       c.OptionalDate("dueDate"),
	}
	return p, nil
}
