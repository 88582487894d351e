package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldops/meterwatch/internal/core"
	"github.com/fieldops/meterwatch/internal/logging"
	"github.com/fieldops/meterwatch/internal/xlsx"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var validate = validator.New()

type submitterPayload struct {
	TabNumber int64  `json:"tab_number" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Location  string `json:"location" validate:"required"`
	Division  string `json:"division" validate:"required"`
}

func (p submitterPayload) toSubmitter() core.Submitter {
	return core.Submitter{
		TabNumber: p.TabNumber,
		Name:      p.Name,
		Location:  p.Location,
		Division:  p.Division,
	}
}

type rowPayload struct {
	Line      int    `json:"line"`
	GovNumber string `json:"gov_number"`
	InvNumber string `json:"inv_number"`
	MeterType string `json:"meter_type" validate:"required"`
	Reading   string `json:"reading"`
	Comment   string `json:"comment"`
}

type submitBatchRequest struct {
	Submitter submitterPayload `json:"submitter" validate:"required"`
	Rows      []rowPayload     `json:"rows" validate:"required,min=1,dive"`
}

type resolveRequest struct {
	ActorTab  int64  `json:"actor_tab" validate:"required"`
	ActorName string `json:"actor_name" validate:"required"`
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, map[string]string{"status": "ok"})
}

// handleSubmitBatch accepts a JSON batch of readings, validates it and
// persists the accepted rows. Rule failures come back in the result
// body, not as an HTTP error.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "missing required fields: "+err.Error())
		return
	}

	rows := make([]core.ReadingRow, len(req.Rows))
	for i, p := range req.Rows {
		line := p.Line
		if line == 0 {
			line = i + 1
		}
		rows[i] = core.ReadingRow{
			Line:      line,
			GovNumber: p.GovNumber,
			InvNumber: p.InvNumber,
			MeterType: p.MeterType,
			Reading:   p.Reading,
			Comment:   p.Comment,
		}
	}

	result, err := s.service.SubmitBatch(r.Context(), req.Submitter.toSubmitter(), rows)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("batch processed",
		"batch_id", result.BatchID,
		"submitter_tab", req.Submitter.TabNumber,
		"rows", len(rows),
		"valid", result.Valid,
		"errors", len(result.Errors),
		"pending", len(result.Pending),
	)
	writeJSON(w, r, result)
}

// handleImportBatch accepts a filled reading template as a multipart
// upload and submits it as a batch. Submitter identity travels in the
// form fields alongside the workbook.
func (s *Server) handleImportBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	if err := r.ParseMultipartForm(s.cfg.Import.MaxFileSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "workbook too large or malformed form")
		return
	}

	tab, err := strconv.ParseInt(r.FormValue("tab_number"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "tab_number must be an integer")
		return
	}
	sub := core.Submitter{
		TabNumber: tab,
		Name:      r.FormValue("name"),
		Location:  r.FormValue("location"),
		Division:  r.FormValue("division"),
	}
	if sub.Name == "" || sub.Location == "" || sub.Division == "" {
		writeError(w, http.StatusBadRequest, "name, location and division are required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing workbook file field")
		return
	}
	defer file.Close()

	rows, err := xlsx.ParseBatch(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read workbook: "+err.Error())
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "workbook contains no reading rows")
		return
	}

	result, err := s.service.SubmitBatch(r.Context(), sub, rows)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, result)
}

// handleTemplate streams a reading template prefilled with the
// equipment of the given location and division.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	division := r.URL.Query().Get("division")
	if location == "" || division == "" {
		writeError(w, http.StatusBadRequest, "location and division query parameters are required")
		return
	}

	keys, err := s.service.EquipmentFor(r.Context(), location, division)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	f, err := xlsx.Template(keys)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="readings_template.xlsx"`)
	if err := f.Write(w); err != nil {
		logging.FromContext(r.Context()).Error("template write failed", "error", err)
	}
}

// handleExportReport streams the final report for a date range as a
// workbook. Defaults to the last 30 days.
func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	to := time.Now()
	from := to.AddDate(0, 0, -30)

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		// Include the whole end day.
		to = to.Add(24*time.Hour - time.Nanosecond)
	}

	recs, err := s.service.Records(r.Context(), from, to)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	f, err := xlsx.Report(recs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		`attachment; filename="final_report_`+time.Now().Format("20060102")+`.xlsx"`)
	if err := f.Write(w); err != nil {
		logging.FromContext(r.Context()).Error("report write failed", "error", err)
	}
}

// handleListPending lists unresolved departure requests, optionally
// filtered by division.
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.service.PendingRequests(r.Context(), r.URL.Query().Get("division"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, map[string]interface{}{"requests": reqs, "count": len(reqs)})
}

// handleConfirm applies an administrator's confirmation to a departure
// request.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.decodeActor(w, r)
	if !ok {
		return
	}

	req, warnings, err := s.service.Confirm(r.Context(), chi.URLParam(r, "requestID"), actor)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("departure confirmed",
		"request_id", req.ID,
		"resolved_by", actor.TabNumber,
		"inv_number", req.Key.InvNumber,
	)
	writeJSON(w, r, map[string]interface{}{"request": req, "warnings": warnings})
}

// handleReject applies an administrator's rejection to a departure
// request.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.decodeActor(w, r)
	if !ok {
		return
	}

	req, err := s.service.Reject(r.Context(), chi.URLParam(r, "requestID"), actor)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("departure rejected",
		"request_id", req.ID,
		"resolved_by", actor.TabNumber,
		"inv_number", req.Key.InvNumber,
	)
	writeJSON(w, r, map[string]interface{}{"request": req})
}

func (s *Server) decodeActor(w http.ResponseWriter, r *http.Request) (core.Actor, bool) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return core.Actor{}, false
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "actor_tab and actor_name are required")
		return core.Actor{}, false
	}
	return core.Actor{TabNumber: req.ActorTab, Name: req.ActorName}, true
}

// handleLastReading returns the last accepted reading for an equipment
// key, or null when none exists.
func (s *Server) handleLastReading(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := core.EquipmentKey{
		InvNumber: q.Get("inv_number"),
		MeterType: q.Get("meter_type"),
	}
	if key.InvNumber == "" || key.MeterType == "" {
		writeError(w, http.StatusBadRequest, "inv_number and meter_type query parameters are required")
		return
	}

	last, err := s.service.LastReadingFor(r.Context(), key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, map[string]interface{}{"last_reading": last})
}
