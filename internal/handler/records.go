package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"dodns/internal/apperr"
	"dodns/internal/httpx"
	"dodns/internal/model"
	"dodns/internal/service"
)

type RecordHandler struct {
	records *service.Records
	audit   *Auditor
	log     *logrus.Entry
}

func NewRecordHandler(records *service.Records, audit *Auditor, log *logrus.Entry) *RecordHandler {
	return &RecordHandler{records: records, audit: audit, log: log.WithField("component", "records")}
}

type updateRequest struct {
	ID     int      `json:"id"`
	TTL    int      `json:"ttl"`
	Values []string `json:"values"`
}

func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	zone, records, err := h.records.ListRecords(r.Context())
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if records == nil {
		records = []model.DNSRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"records": records, "zone": zone})
}

func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in model.RecordInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	created, err := h.records.CreateRecord(r.Context(), in)
	if len(created) > 0 {
		h.audit.Record(r, model.AuditEntry{
			Action:     "create_record",
			RecordName: in.Name,
			RecordType: strings.ToUpper(in.Type),
			Detail:     fmt.Sprintf("values=%v ttl=%d%s", valuesOf(created), in.TTL, partialSuffix(err)),
		})
	}
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": "Record created successfully",
		"name":    in.Name,
		"records": created,
	})
}

func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	recordType := r.PathValue("type")
	name := r.PathValue("name")

	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	changes, err := h.records.UpdateRecord(r.Context(), model.RecordInput{
		ID:     req.ID,
		Name:   name,
		Type:   recordType,
		TTL:    req.TTL,
		Values: req.Values,
	})
	if changes != (service.Changes{}) {
		h.audit.Record(r, model.AuditEntry{
			Action:     "edit_record",
			RecordName: name,
			RecordType: strings.ToUpper(recordType),
			Detail: fmt.Sprintf("updated=%d deleted=%d created=%d values=%v%s",
				changes.Updated, changes.Deleted, changes.Created, req.Values, partialSuffix(err)),
		})
	}
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Record updated successfully",
		"name":    name,
		"changes": changes,
	})
}

func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	recordType := r.PathValue("type")
	name := r.PathValue("name")

	var id int
	if raw := r.URL.Query().Get("id"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			httpx.WriteError(w, h.log, apperr.Validation("Invalid record id: %s", raw))
			return
		}
		id = v
	}

	if err := h.records.DeleteRecord(r.Context(), recordType, name, id); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	h.audit.Record(r, model.AuditEntry{
		Action:     "delete_record",
		RecordName: name,
		RecordType: strings.ToUpper(recordType),
		Detail:     fmt.Sprintf("id=%d", id),
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Record deleted successfully",
		"name":    name,
	})
}

func valuesOf(records []model.DNSRecord) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.Values...)
	}
	return out
}

func partialSuffix(err error) string {
	if apperr.Is(err, apperr.KindPartial) {
		return " (partial)"
	}
	return ""
}
