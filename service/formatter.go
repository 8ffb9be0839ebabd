package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/surajmurari02/ocr-card/model"
)

// Export formats accepted by ResultFormatter.Export.
const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatVCard = "vcard"
	FormatXLSX  = "xlsx"
)

const (
	JSONFilename  = "business_card_data.json"
	CSVFilename   = "business_card_data.csv"
	VCardFilename = "business_card.vcf"
	XLSXFilename  = "business_card_data.xlsx"

	xlsxSheet = "Contact"
)

// fieldAliases lists, per canonical key, the provider spellings accepted
// after the canonical key itself. Order is priority.
var fieldAliases = map[string][]string{
	model.FieldName:        {"full name", "contact name"},
	model.FieldDesignation: {"title", "job title", "position", "role"},
	model.FieldCompany:     {"company name", "organization", "organisation", "org"},
	model.FieldMobile:      {"mobile number", "phone", "phone number", "telephone", "tel", "contact number"},
	model.FieldEmail:       {"email address", "e-mail", "mail"},
	model.FieldAddress:     {"office address", "location", "addr"},
}

var keySeparators = strings.NewReplacer("_", " ", "-", " ")

// normalizeKey folds case and separators, "Company_Name" -> "company name".
func normalizeKey(k string) string {
	k = keySeparators.Replace(strings.ToLower(k))
	return strings.Join(strings.Fields(k), " ")
}

// fieldKeys returns the normalized spellings for field, canonical first.
func fieldKeys(field string) []string {
	keys := []string{normalizeKey(field)}
	for _, a := range fieldAliases[field] {
		keys = append(keys, normalizeKey(a))
	}
	return keys
}

// KnownKeys returns every normalized spelling of every contact field.
func KnownKeys() []string {
	var keys []string
	for _, field := range model.ContactFields {
		keys = append(keys, fieldKeys(field)...)
	}
	return keys
}

// normalizeKeys re-keys raw by normalizeKey. When two raw keys collide the
// lexically smallest raw key wins so the result does not depend on map order.
func normalizeKeys(raw map[string]any) map[string]any {
	rawKeys := make([]string, 0, len(raw))
	for k := range raw {
		rawKeys = append(rawKeys, k)
	}
	sort.Strings(rawKeys)

	out := make(map[string]any, len(raw))
	for _, k := range rawKeys {
		nk := normalizeKey(k)
		if _, exists := out[nk]; !exists {
			out[nk] = raw[k]
		}
	}
	return out
}

// Normalize maps a provider payload onto the six contact fields. Missing and
// null values become model.NotAvailable; nothing else is invented.
func Normalize(raw map[string]any) *model.ContactRecord {
	keyed := normalizeKeys(raw)
	rec := &model.ContactRecord{RawResponse: raw}
	for _, field := range model.ContactFields {
		rec.Set(field, lookupField(keyed, field))
	}
	return rec
}

func lookupField(keyed map[string]any, field string) string {
	for _, k := range fieldKeys(field) {
		v, ok := keyed[k]
		if !ok || v == nil {
			continue
		}
		s := stringify(v)
		if strings.EqualFold(s, "null") {
			continue
		}
		return s
	}
	return model.NotAvailable
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(t))
		for _, k := range keys {
			if t[k] == nil {
				continue
			}
			if s := stringify(t[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// ResultFormatter turns provider payloads into contact records and contact
// records into downloadable artifacts.
type ResultFormatter struct{}

func NewResultFormatter() *ResultFormatter {
	return &ResultFormatter{}
}

func (f *ResultFormatter) Normalize(raw map[string]any) *model.ContactRecord {
	return Normalize(raw)
}

// ParseFormat canonicalises a user-supplied format name.
func ParseFormat(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatVCard, "vcf":
		return FormatVCard, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	}
	return "", model.ExportError(model.ErrUnsupportedFormat, fmt.Sprintf("Unsupported export format: %s", name))
}

// Export renders rec in the named format. It never mutates rec.
func (f *ResultFormatter) Export(rec *model.ContactRecord, format string) (*model.ExportArtifact, error) {
	if rec == nil {
		return nil, model.ExportError(model.ErrNoData, "No data to export. Scan a business card first.")
	}
	name, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}

	switch name {
	case FormatJSON:
		return exportJSON(rec)
	case FormatCSV:
		return exportCSV(rec), nil
	case FormatVCard:
		return exportVCard(rec), nil
	default:
		return exportXLSX(rec)
	}
}

func exportJSON(rec *model.ContactRecord) (*model.ExportArtifact, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("failed to encode json export: %w", err)
	}
	return &model.ExportArtifact{
		Filename:  JSONFilename,
		MediaType: "application/json",
		Data:      buf.Bytes(),
	}, nil
}

func exportCSV(rec *model.ContactRecord) *model.ExportArtifact {
	var b strings.Builder
	b.WriteString("Field,Value\n")
	for _, field := range model.ContactFields {
		fmt.Fprintf(&b, "%s,\"%s\"\n", model.FieldLabel(field), strings.ReplaceAll(rec.Get(field), `"`, `""`))
	}
	return &model.ExportArtifact{
		Filename:  CSVFilename,
		MediaType: "text/csv",
		Data:      []byte(b.String()),
	}
}

var vcardProperties = []struct {
	prop  string
	field string
}{
	{"FN", model.FieldName},
	{"TITLE", model.FieldDesignation},
	{"ORG", model.FieldCompany},
	{"TEL", model.FieldMobile},
	{"EMAIL", model.FieldEmail},
	{"ADR", model.FieldAddress},
}

var vcardNewlines = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\n`)

func exportVCard(rec *model.ContactRecord) *model.ExportArtifact {
	lines := []string{"BEGIN:VCARD", "VERSION:3.0"}
	for _, p := range vcardProperties {
		v := rec.Get(p.field)
		if v == model.NotAvailable {
			v = ""
		}
		lines = append(lines, p.prop+":"+vcardNewlines.Replace(v))
	}
	lines = append(lines, "END:VCARD")

	return &model.ExportArtifact{
		Filename:  VCardFilename,
		MediaType: "text/vcard",
		Data:      []byte(strings.Join(lines, "\n")),
	}
}

func exportXLSX(rec *model.ContactRecord) (*model.ExportArtifact, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &[]any{"Field", "Value"}); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for i, field := range model.ContactFields {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &[]any{model.FieldLabel(field), rec.Get(field)}); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", field, err)
		}
	}
	if err := f.SetColWidth(xlsxSheet, "A", "A", 14); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(xlsxSheet, "B", "B", 48); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx: %w", err)
	}
	return &model.ExportArtifact{
		Filename:  XLSXFilename,
		MediaType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Data:      buf.Bytes(),
	}, nil
}
