package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/surajmurari02/ocr-card/model"
)

func TestNormalizeAliases(t *testing.T) {
	tests := []struct {
		name  string
		raw   map[string]any
		field string
		want  string
	}{
		{"company name alias", map[string]any{"company name": "Acme"}, model.FieldCompany, "Acme"},
		{"underscore alias", map[string]any{"Company_Name": "Acme"}, model.FieldCompany, "Acme"},
		{"canonical wins", map[string]any{"company": "Canonical", "company name": "Alias"}, model.FieldCompany, "Canonical"},
		{"phone alias", map[string]any{"phone": "+1 555"}, model.FieldMobile, "+1 555"},
		{"mobile number alias", map[string]any{"Mobile-Number": "+44 20"}, model.FieldMobile, "+44 20"},
		{"title alias", map[string]any{"job_title": "CTO"}, model.FieldDesignation, "CTO"},
		{"e-mail alias", map[string]any{"E-Mail": "a@b.c"}, model.FieldEmail, "a@b.c"},
		{"null falls through to alias", map[string]any{"company": nil, "organization": "Org"}, model.FieldCompany, "Org"},
		{"upper case canonical", map[string]any{"NAME": "Jane"}, model.FieldName, "Jane"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Normalize(tt.raw)
			if got := rec.Get(tt.field); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestNormalizeSentinel(t *testing.T) {
	rec := Normalize(map[string]any{
		"name":    "Jane",
		"email":   nil,
		"mobile":  "null",
		"address": "",
	})

	if rec.Email != model.NotAvailable {
		t.Errorf("Expected null email to be %q, got %q", model.NotAvailable, rec.Email)
	}
	if rec.Mobile != model.NotAvailable {
		t.Errorf("Expected string null mobile to be %q, got %q", model.NotAvailable, rec.Mobile)
	}
	if rec.Company != model.NotAvailable || rec.Designation != model.NotAvailable {
		t.Error("Expected missing keys to be the sentinel")
	}
	if rec.Address != "" {
		t.Errorf("Expected empty address to stay empty, got %q", rec.Address)
	}
	if rec.Name != "Jane" {
		t.Errorf("Expected Jane, got %q", rec.Name)
	}
}

func TestNormalizeValueTypes(t *testing.T) {
	rec := Normalize(map[string]any{
		"mobile":  []any{"+1 555 0100", nil, "+1 555 0101"},
		"name":    float64(42),
		"address": map[string]any{"city": "Springfield", "street": "742 Evergreen Terrace"},
	})
	if rec.Mobile != "+1 555 0100, +1 555 0101" {
		t.Errorf("Unexpected mobile %q", rec.Mobile)
	}
	if rec.Name != "42" {
		t.Errorf("Unexpected name %q", rec.Name)
	}
	if rec.Address != "Springfield, 742 Evergreen Terrace" {
		t.Errorf("Unexpected address %q", rec.Address)
	}
}

func TestNormalizeKeepsRawResponse(t *testing.T) {
	raw := map[string]any{"name": "Jane", "status": "success"}
	rec := Normalize(raw)
	if rec.RawResponse["status"] != "success" {
		t.Error("Expected raw response to be retained")
	}
}

func TestKnownKeys(t *testing.T) {
	keys := KnownKeys()
	want := map[string]bool{"name": false, "company name": false, "e mail": false, "phone": false}
	for _, k := range keys {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("Expected %q in known keys", k)
		}
	}
}

func sampleRecord() *model.ContactRecord {
	return &model.ContactRecord{
		Name:           "John Smith",
		Designation:    "Senior Software Engineer",
		Company:        "Tech Solutions Inc.",
		Mobile:         "+1 (555) 123-4567",
		Email:          "john.smith@techsolutions.com",
		Address:        "123 Business Street, Tech City, TC 12345",
		ProcessingTime: 2.34,
		RawResponse:    map[string]any{"status": "success", "filename": "card.jpg"},
	}
}

func TestExportJSON(t *testing.T) {
	f := NewResultFormatter()
	art, err := f.Export(sampleRecord(), "json")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if art.Filename != "business_card_data.json" {
		t.Errorf("Unexpected filename %s", art.Filename)
	}
	if art.MediaType != "application/json" {
		t.Errorf("Unexpected media type %s", art.MediaType)
	}
	if !bytes.Contains(art.Data, []byte("\n  \"name\": \"John Smith\"")) {
		t.Errorf("Expected pretty-printed output, got %s", art.Data)
	}

	var out map[string]any
	if err := json.Unmarshal(art.Data, &out); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(out) != 7 {
		t.Errorf("Expected 7 keys, got %d: %v", len(out), out)
	}
	for _, k := range []string{"status", "filename", "raw_response"} {
		if _, ok := out[k]; ok {
			t.Errorf("Unexpected key %q in JSON export", k)
		}
	}
	if out["processing_time"] != 2.34 {
		t.Errorf("Expected processing_time 2.34, got %v", out["processing_time"])
	}
}

func TestExportCSV(t *testing.T) {
	rec := sampleRecord()
	rec.Company = `Smith "and" Sons`

	art, err := NewResultFormatter().Export(rec, "CSV")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if art.Filename != "business_card_data.csv" {
		t.Errorf("Unexpected filename %s", art.Filename)
	}

	lines := strings.Split(strings.TrimSuffix(string(art.Data), "\n"), "\n")
	if len(lines) != 7 {
		t.Fatalf("Expected header plus 6 rows, got %d: %q", len(lines), lines)
	}
	if lines[0] != "Field,Value" {
		t.Errorf("Unexpected header %q", lines[0])
	}
	if lines[1] != `Name,"John Smith"` {
		t.Errorf("Unexpected name row %q", lines[1])
	}
	if lines[3] != `Company,"Smith ""and"" Sons"` {
		t.Errorf("Unexpected company row %q", lines[3])
	}
	if lines[6] != `Address,"123 Business Street, Tech City, TC 12345"` {
		t.Errorf("Unexpected address row %q", lines[6])
	}

	lower := strings.ToLower(string(art.Data))
	for _, k := range []string{"status", "filename", "processing_time", "processing time", "raw_response"} {
		if strings.Contains(lower, k) {
			t.Errorf("CSV export must not contain %q", k)
		}
	}
}

func TestExportVCardEmptyFields(t *testing.T) {
	rec := &model.ContactRecord{
		Name:        "",
		Designation: "",
		Company:     model.NotAvailable,
		Mobile:      "",
		Email:       model.NotAvailable,
		Address:     "",
	}
	art, err := NewResultFormatter().Export(rec, "vcard")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	want := "BEGIN:VCARD\nVERSION:3.0\nFN:\nTITLE:\nORG:\nTEL:\nEMAIL:\nADR:\nEND:VCARD"
	if string(art.Data) != want {
		t.Errorf("Unexpected vCard:\n%s\nwant:\n%s", art.Data, want)
	}
	if art.Filename != "business_card.vcf" {
		t.Errorf("Unexpected filename %s", art.Filename)
	}
}

func TestExportVCard(t *testing.T) {
	rec := sampleRecord()
	rec.Address = "Line 1\nLine 2"

	art, err := NewResultFormatter().Export(rec, "vcf")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	lines := strings.Split(string(art.Data), "\n")
	want := []string{
		"BEGIN:VCARD",
		"VERSION:3.0",
		"FN:John Smith",
		"TITLE:Senior Software Engineer",
		"ORG:Tech Solutions Inc.",
		"TEL:+1 (555) 123-4567",
		"EMAIL:john.smith@techsolutions.com",
		`ADR:Line 1\nLine 2`,
		"END:VCARD",
	}
	if len(lines) != len(want) {
		t.Fatalf("Expected %d lines, got %d: %q", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestExportXLSX(t *testing.T) {
	art, err := NewResultFormatter().Export(sampleRecord(), "xlsx")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if art.Filename != "business_card_data.xlsx" {
		t.Errorf("Unexpected filename %s", art.Filename)
	}

	f, err := excelize.OpenReader(bytes.NewReader(art.Data))
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Contact")
	if err != nil {
		t.Fatalf("Failed to read rows: %v", err)
	}
	if len(rows) != 7 {
		t.Fatalf("Expected 7 rows, got %d", len(rows))
	}
	if rows[0][0] != "Field" || rows[0][1] != "Value" {
		t.Errorf("Unexpected header %v", rows[0])
	}
	if rows[5][0] != "Email" || rows[5][1] != "john.smith@techsolutions.com" {
		t.Errorf("Unexpected email row %v", rows[5])
	}
}

func TestExportErrors(t *testing.T) {
	f := NewResultFormatter()

	if _, err := f.Export(nil, "json"); !errors.Is(err, model.ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}

	_, err := f.Export(sampleRecord(), "pdf")
	if !errors.Is(err, model.ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
	if model.CategoryOf(err) != model.CategoryExport {
		t.Errorf("Expected export category, got %s", model.CategoryOf(err))
	}
}

func TestExportDoesNotMutateRecord(t *testing.T) {
	rec := sampleRecord()
	rec.Email = model.NotAvailable
	before := *rec

	for _, format := range []string{"json", "csv", "vcard", "xlsx"} {
		if _, err := NewResultFormatter().Export(rec, format); err != nil {
			t.Fatalf("Export %s failed: %v", format, err)
		}
	}
	if rec.Email != before.Email || rec.Name != before.Name {
		t.Error("Export mutated the record")
	}
}
