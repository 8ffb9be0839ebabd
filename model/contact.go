package model

// NotAvailable replaces contact fields the OCR provider did not return.
const NotAvailable = "Not available"

// Canonical contact field keys, in display order.
const (
	FieldName        = "name"
	FieldDesignation = "designation"
	FieldCompany     = "company"
	FieldMobile      = "mobile"
	FieldEmail       = "email"
	FieldAddress     = "address"
)

// ContactFields lists the six canonical keys in display order.
var ContactFields = []string{FieldName, FieldDesignation, FieldCompany, FieldMobile, FieldEmail, FieldAddress}

var fieldLabels = map[string]string{
	FieldName:        "Name",
	FieldDesignation: "Designation",
	FieldCompany:     "Company",
	FieldMobile:      "Mobile",
	FieldEmail:       "Email",
	FieldAddress:     "Address",
}

// FieldLabel returns the human-readable label for a canonical key.
func FieldLabel(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return field
}

// UploadCandidate is a user-selected image held in memory for one scan.
type UploadCandidate struct {
	Data        []byte
	ContentType string
	Size        int64
	Filename    string
}

// ContactRecord is the normalized extraction result.
type ContactRecord struct {
	Name           string  `json:"name"`
	Designation    string  `json:"designation"`
	Company        string  `json:"company"`
	Mobile         string  `json:"mobile"`
	Email          string  `json:"email"`
	Address        string  `json:"address"`
	ProcessingTime float64 `json:"processing_time"`

	RawResponse map[string]any `json:"-"`
}

// Get returns the value stored under a canonical key.
func (r *ContactRecord) Get(field string) string {
	switch field {
	case FieldName:
		return r.Name
	case FieldDesignation:
		return r.Designation
	case FieldCompany:
		return r.Company
	case FieldMobile:
		return r.Mobile
	case FieldEmail:
		return r.Email
	case FieldAddress:
		return r.Address
	}
	return ""
}

// Set stores value under a canonical key; unknown keys are ignored.
func (r *ContactRecord) Set(field, value string) {
	switch field {
	case FieldName:
		r.Name = value
	case FieldDesignation:
		r.Designation = value
	case FieldCompany:
		r.Company = value
	case FieldMobile:
		r.Mobile = value
	case FieldEmail:
		r.Email = value
	case FieldAddress:
		r.Address = value
	}
}

// Available reports whether the provider supplied a value for field.
func (r *ContactRecord) Available(field string) bool {
	return r.Get(field) != NotAvailable
}

// ExportArtifact is a generated download, never cached.
type ExportArtifact struct {
	Filename  string
	MediaType string
	Data      []byte
}
