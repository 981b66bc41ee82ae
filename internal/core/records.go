package core

// records.go defines the canonical, strongly-typed records the engine produces.
//
// Every record embeds Meta. Meta.Provided remembers which logical fields were
// actually present in the source row, so a merge only overwrites what the
// source supplied and leaves locally-maintained fields alone.

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UnknownProjectID is the back-reference used when a row names a project
// that cannot be matched against the known projects.
const UnknownProjectID = "unknown"

// UnknownProjectName is the display name paired with UnknownProjectID.
const UnknownProjectName = "Unknown"

// Record is a canonical record of one entity kind.
type Record interface {
	Kind() Kind
	Base() *Meta
	Clone() Record
	// MergeFrom copies the fields incoming supplied into the receiver.
	// The receiver's ID and CreatedAt are authoritative.
	MergeFrom(incoming Record)
	// DedupKey is a semantic natural key for kinds without an external
	// reference (for example a lead's email). Empty when not applicable.
	DedupKey() string
	// Fingerprint is the content summary used for fuzzy equivalence.
	Fingerprint() Fingerprint
}

// Fingerprint summarises a record for fuzzy equivalence. Text is compared
// by edit distance; Exact holds the numeric and date components, which must
// be equal.
type Fingerprint struct {
	Text  string
	Exact string
}

// IsZero reports whether the record has nothing to fingerprint.
func (f Fingerprint) IsZero() bool { return f.Text == "" }

// Meta holds the fields shared by every canonical record.
type Meta struct {
	ID          string            `json:"id" validate:"required"`
	ExternalRef string            `json:"externalRef,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Source      string            `json:"source,omitempty"`
	CreatedAt   time.Time         `json:"createdAt" validate:"required"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Extra       map[string]string `json:"extra,omitempty"`

	// Provided lists the logical fields the source row supplied.
	// Nil means every field counts as provided.
	Provided map[string]bool `json:"-"`
}

// Has reports whether the source supplied the named logical field.
func (m *Meta) Has(field string) bool {
	return m.Provided == nil || m.Provided[field]
}

func (m *Meta) clone() Meta {
	c := *m
	if m.Extra != nil {
		c.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	if m.Provided != nil {
		c.Provided = make(map[string]bool, len(m.Provided))
		for k, v := range m.Provided {
			c.Provided[k] = v
		}
	}
	return c
}

// mergeMeta keeps the existing ID and CreatedAt, adopts the incoming
// reference and timestamps, and unions Extra.
func (m *Meta) mergeMeta(in *Meta) {
	if in.ExternalRef != "" {
		m.ExternalRef = in.ExternalRef
	}
	if in.Has("notes") && in.Notes != "" {
		m.Notes = in.Notes
	}
	if in.Source != "" {
		m.Source = in.Source
	}
	if !in.UpdatedAt.IsZero() {
		m.UpdatedAt = in.UpdatedAt
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = in.CreatedAt
	}
	for k, v := range in.Extra {
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[k] = v
	}
}

func mergeText(dst *string, in *Meta, field, v string) {
	if in.Has(field) && v != "" {
		*dst = v
	}
}

func mergeNumber(dst *float64, in *Meta, field string, v float64) {
	if in.Has(field) {
		*dst = v
	}
}

func mergeTime(dst *time.Time, in *Meta, field string, v time.Time) {
	if in.Has(field) && !v.IsZero() {
		*dst = v
	}
}

// ----------------------------------------------------------------------------
// Project
// ----------------------------------------------------------------------------

// Project is a construction project or quote.
type Project struct {
	Meta
	Name          string    `json:"name" validate:"required"`
	Client        string    `json:"client,omitempty"`
	Address       string    `json:"address,omitempty"`
	Region        string    `json:"region,omitempty"`
	Status        string    `json:"status" validate:"oneof=Draft Sent Ongoing Completed Won Lost"`
	ContractValue float64   `json:"contractValue" validate:"finite,gte=0"`
	LaborRate     float64   `json:"laborRate" validate:"finite,gte=0"`
	DueDate       time.Time `json:"dueDate,omitempty"`
}

func (p *Project) Kind() Kind  { return KindProject }
func (p *Project) Base() *Meta { return &p.Meta }

func (p *Project) Clone() Record {
	c := *p
	c.Meta = p.Meta.clone()
	return &c
}

func (p *Project) MergeFrom(incoming Record) {
	in, ok := incoming.(*Project)
	if !ok {
		return
	}
	p.mergeMeta(&in.Meta)
	mergeText(&p.Name, &in.Meta, "name", in.Name)
	mergeText(&p.Client, &in.Meta, "client", in.Client)
	mergeText(&p.Address, &in.Meta, "address", in.Address)
	mergeText(&p.Region, &in.Meta, "region", in.Region)
	mergeText(&p.Status, &in.Meta, "status", in.Status)
	mergeNumber(&p.ContractValue, &in.Meta, "contractValue", in.ContractValue)
	mergeNumber(&p.LaborRate, &in.Meta, "laborRate", in.LaborRate)
	mergeTime(&p.DueDate, &in.Meta, "dueDate", in.DueDate)
}

func (p *Project) DedupKey() string { return "" }

func (p *Project) Fingerprint() Fingerprint {
	if p.Name == "" {
		return Fingerprint{}
	}
	return Fingerprint{Text: Fold(p.Name) + "|" + Fold(p.Client)}
}

// ----------------------------------------------------------------------------
// Ticket
// ----------------------------------------------------------------------------

// Ticket is a change-order ticket raised against a project.
type Ticket struct {
	Meta
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description,omitempty"`
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	Status      string    `json:"status" validate:"oneof=Draft Sent Pending Approved Rejected Paid"`
	Amount      float64   `json:"amount" validate:"finite,gte=0"`
	Date        time.Time `json:"date" validate:"required"`
}

func (t *Ticket) Kind() Kind  { return KindTicket }
func (t *Ticket) Base() *Meta { return &t.Meta }

func (t *Ticket) Clone() Record {
	c := *t
	c.Meta = t.Meta.clone()
	return &c
}

func (t *Ticket) MergeFrom(incoming Record) {
	in, ok := incoming.(*Ticket)
	if !ok {
		return
	}
	t.mergeMeta(&in.Meta)
	mergeText(&t.Title, &in.Meta, "title", in.Title)
	mergeText(&t.Description, &in.Meta, "description", in.Description)
	if in.Has("project") && in.ProjectID != "" && in.ProjectID != UnknownProjectID {
		t.ProjectID = in.ProjectID
		t.ProjectName = in.ProjectName
	}
	mergeText(&t.Status, &in.Meta, "status", in.Status)
	mergeNumber(&t.Amount, &in.Meta, "amount", in.Amount)
	mergeTime(&t.Date, &in.Meta, "date", in.Date)
}

func (t *Ticket) DedupKey() string { return "" }

func (t *Ticket) Fingerprint() Fingerprint {
	if t.Title == "" {
		return Fingerprint{}
	}
	return Fingerprint{Text: Fold(t.Title), Exact: t.ProjectID}
}

// ----------------------------------------------------------------------------
// Lead
// ----------------------------------------------------------------------------

// Lead is a sales contact.
type Lead struct {
	Meta
	Name           string  `json:"name" validate:"required"`
	Company        string  `json:"company,omitempty"`
	Email          string  `json:"email,omitempty" validate:"omitempty,email"`
	Phone          string  `json:"phone,omitempty"`
	City           string  `json:"city,omitempty"`
	State          string  `json:"state,omitempty"`
	Channel        string  `json:"channel,omitempty"`
	Status         string  `json:"status" validate:"oneof=New Contacted Qualified Won Lost"`
	EstimatedValue float64 `json:"estimatedValue" validate:"finite,gte=0"`
	ProjectID      string  `json:"projectId,omitempty"`
	ProjectName    string  `json:"projectName,omitempty"`
}

func (l *Lead) Kind() Kind  { return KindLead }
func (l *Lead) Base() *Meta { return &l.Meta }

func (l *Lead) Clone() Record {
	c := *l
	c.Meta = l.Meta.clone()
	return &c
}

func (l *Lead) MergeFrom(incoming Record) {
	in, ok := incoming.(*Lead)
	if !ok {
		return
	}
	l.mergeMeta(&in.Meta)
	mergeText(&l.Name, &in.Meta, "name", in.Name)
	mergeText(&l.Company, &in.Meta, "company", in.Company)
	mergeText(&l.Email, &in.Meta, "email", in.Email)
	mergeText(&l.Phone, &in.Meta, "phone", in.Phone)
	mergeText(&l.City, &in.Meta, "city", in.City)
	mergeText(&l.State, &in.Meta, "state", in.State)
	mergeText(&l.Channel, &in.Meta, "channel", in.Channel)
	mergeText(&l.Status, &in.Meta, "status", in.Status)
	mergeNumber(&l.EstimatedValue, &in.Meta, "estimatedValue", in.EstimatedValue)
	if in.Has("project") && in.ProjectID != "" && in.ProjectID != UnknownProjectID {
		l.ProjectID = in.ProjectID
		l.ProjectName = in.ProjectName
	}
}

// DedupKey is the normalised email, or the phone digits when there is no email.
func (l *Lead) DedupKey() string {
	if email := strings.ToLower(strings.TrimSpace(l.Email)); email != "" {
		return "email:" + email
	}
	if digits := PhoneDigits(l.Phone); len(digits) >= 7 {
		return "phone:" + digits
	}
	return ""
}

func (l *Lead) Fingerprint() Fingerprint {
	if l.Name == "" {
		return Fingerprint{}
	}
	return Fingerprint{Text: Fold(l.Name) + "|" + Fold(l.Company)}
}

// ----------------------------------------------------------------------------
// PurchaseLine
// ----------------------------------------------------------------------------

// PurchaseLine is one line of a purchase order or vendor invoice.
type PurchaseLine struct {
	Meta
	PONumber    string    `json:"poNumber,omitempty"`
	Vendor      string    `json:"vendor,omitempty"`
	Description string    `json:"description" validate:"required"`
	Category    string    `json:"category" validate:"oneof=Materials Labor Equipment Subcontract Other"`
	Quantity    float64   `json:"quantity" validate:"finite,gte=0"`
	UnitPrice   float64   `json:"unitPrice" validate:"finite,gte=0"`
	Total       float64   `json:"total" validate:"finite,gte=0"`
	Region      string    `json:"region,omitempty"`
	ProjectID   string    `json:"projectId,omitempty"`
	ProjectName string    `json:"projectName,omitempty"`
	Date        time.Time `json:"date" validate:"required"`
}

func (p *PurchaseLine) Kind() Kind  { return KindPurchase }
func (p *PurchaseLine) Base() *Meta { return &p.Meta }

func (p *PurchaseLine) Clone() Record {
	c := *p
	c.Meta = p.Meta.clone()
	return &c
}

func (p *PurchaseLine) MergeFrom(incoming Record) {
	in, ok := incoming.(*PurchaseLine)
	if !ok {
		return
	}
	p.mergeMeta(&in.Meta)
	mergeText(&p.PONumber, &in.Meta, "poNumber", in.PONumber)
	mergeText(&p.Vendor, &in.Meta, "vendor", in.Vendor)
	mergeText(&p.Description, &in.Meta, "description", in.Description)
	mergeText(&p.Category, &in.Meta, "category", in.Category)
	mergeNumber(&p.Quantity, &in.Meta, "quantity", in.Quantity)
	mergeNumber(&p.UnitPrice, &in.Meta, "unitPrice", in.UnitPrice)
	if in.Has("total") || in.Has("quantity") || in.Has("unitPrice") {
		p.Total = in.Total
	}
	mergeText(&p.Region, &in.Meta, "region", in.Region)
	if in.Has("project") && in.ProjectID != "" && in.ProjectID != UnknownProjectID {
		p.ProjectID = in.ProjectID
		p.ProjectName = in.ProjectName
	}
	mergeTime(&p.Date, &in.Meta, "date", in.Date)
}

func (p *PurchaseLine) DedupKey() string { return "" }

func (p *PurchaseLine) Fingerprint() Fingerprint {
	if p.Description == "" {
		return Fingerprint{}
	}
	return Fingerprint{
		Text:  Fold(p.Vendor) + "|" + Fold(p.Description),
		Exact: fmt.Sprintf("%s|%g", p.Date.Format("2006-01-02"), p.Quantity),
	}
}

// ----------------------------------------------------------------------------
// Codec
// ----------------------------------------------------------------------------

// NewRecord returns an empty record of the given kind.
func NewRecord(kind Kind) (Record, error) {
	switch kind {
	case KindProject:
		return &Project{}, nil
	case KindTicket:
		return &Ticket{}, nil
	case KindLead:
		return &Lead{}, nil
	case KindPurchase:
		return &PurchaseLine{}, nil
	default:
		return nil, &UnknownKindError{Kind: string(kind)}
	}
}

// DecodeRecord decodes one JSON record of the given kind.
func DecodeRecord(kind Kind, data []byte) (Record, error) {
	rec, err := NewRecord(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", kind, err)
	}
	return rec, nil
}

// DecodeRecords decodes a JSON array of records of the given kind.
func DecodeRecords(kind Kind, data []byte) ([]Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s records: %w", kind, err)
	}
	out := make([]Record, 0, len(raw))
	for i, item := range raw {
		rec, err := DecodeRecord(kind, item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// EncodeRecords encodes records as an indented JSON array.
func EncodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.MarshalIndent(records, "", "  ")
}
