package service

import (
	"fmt"

	"github.com/surajmurari02/ocr-card/model"
)

// View is everything the page needs to draw one controller state.
type View struct {
	State     model.ScanState      `json:"state"`
	Loading   bool                 `json:"loading"`
	Message   string               `json:"message"`
	ErrorKind string               `json:"error_kind,omitempty"`
	CanRetry  bool                 `json:"can_retry"`
	CanExport bool                 `json:"can_export"`
	Filename  string               `json:"filename,omitempty"`
	Record    *model.ContactRecord `json:"record,omitempty"`
}

// Render is a pure function of the snapshot.
func Render(s model.Scan) View {
	v := View{
		State:    s.State,
		Filename: s.Filename,
	}

	switch s.State {
	case model.StateFileSelected:
		v.Message = fmt.Sprintf("Ready to scan %s.", s.Filename)
	case model.StateValidating:
		v.Message = "Checking file…"
	case model.StateScanning:
		v.Loading = true
		v.Message = "Analyzing…"
	case model.StateResultReady:
		v.Message = "Contact details extracted."
		v.CanExport = s.Record != nil
		v.Record = s.Record
	case model.StateScanFailed:
		v.Message = model.UserMessage(s.Err)
		v.ErrorKind = string(model.CategoryOf(s.Err))
		v.CanRetry = true
	default:
		v.State = model.StateIdle
		v.Message = "Upload a business card image to get started."
	}
	return v
}
