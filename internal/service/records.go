package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"dodns/internal/apperr"
	"dodns/internal/model"
	"dodns/internal/upstream"
)

const (
	DefaultTTL = 3600
	MinTTL     = 30
	MaxTTL     = 2147483647
)

// Records implements logical, possibly multi-value records on top of
// DigitalOcean's single-value records.
type Records struct {
	creds *Credentials
	log   *logrus.Entry
}

func NewRecords(creds *Credentials, log *logrus.Entry) *Records {
	return &Records{creds: creds, log: log.WithField("component", "records")}
}

// Changes counts the upstream calls an update performed.
type Changes struct {
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Created int `json:"created"`
}

func (s *Records) ListRecords(ctx context.Context) (string, []model.DNSRecord, error) {
	up, zone, err := s.creds.Upstream(ctx)
	if err != nil {
		return "", nil, err
	}
	records, err := up.ListRecords(ctx, zone)
	if err != nil {
		return "", nil, err
	}
	return zone, records, nil
}

// CreateRecord issues one upstream create per value. The first failure stops
// the sequence; values created before it are left in place.
func (s *Records) CreateRecord(ctx context.Context, in model.RecordInput) ([]model.DNSRecord, error) {
	rec, err := validateInput(in, true)
	if err != nil {
		return nil, err
	}
	up, zone, err := s.creds.Upstream(ctx)
	if err != nil {
		return nil, err
	}

	created := make([]model.DNSRecord, 0, len(rec.Values))
	var applied []string
	for _, value := range rec.Values {
		req, err := upstream.EncodeValue(rec.Name, rec.Type, rec.TTL, value)
		if err != nil {
			return created, err
		}
		r, err := up.CreateRecord(ctx, zone, req)
		if err != nil {
			if len(created) == 0 {
				return nil, err
			}
			s.log.WithError(err).WithFields(logrus.Fields{
				"name": rec.Name, "type": rec.Type, "applied": len(applied),
			}).Warn("create partially applied")
			return created, apperr.Partial(
				fmt.Sprintf("Record %s (%s) was partially created (%d of %d values); re-list records to see the current state: %s",
					rec.Name, rec.Type, len(created), len(rec.Values), causeMessage(err)),
				applied, err)
		}
		created = append(created, r)
		applied = append(applied, "create "+value)
	}

	s.log.WithFields(logrus.Fields{"name": rec.Name, "type": rec.Type, "values": len(created)}).Info("record created")
	return created, nil
}

type stepOp int

const (
	stepEdit stepOp = iota
	stepDelete
	stepCreate
)

type step struct {
	op    stepOp
	id    int
	value string
}

func (st step) String() string {
	switch st.op {
	case stepEdit:
		return fmt.Sprintf("update %d %s", st.id, st.value)
	case stepDelete:
		return fmt.Sprintf("delete %d %s", st.id, st.value)
	default:
		return "create " + st.value
	}
}

// UpdateRecord replaces the values of the (name, type) record set. It first
// plans the difference against the current upstream entries, then applies
// edits, deletes and creates in that order. A failure after the first
// applied step is reported as a partial error; nothing is rolled back.
func (s *Records) UpdateRecord(ctx context.Context, in model.RecordInput) (Changes, error) {
	rec, err := validateInput(in, false)
	if err != nil {
		return Changes{}, err
	}
	up, zone, err := s.creds.Upstream(ctx)
	if err != nil {
		return Changes{}, err
	}

	all, err := up.ListRecords(ctx, zone)
	if err != nil {
		return Changes{}, err
	}
	current := matching(all, rec.Name, rec.Type)
	if len(current) == 0 || (rec.ID != 0 && !containsID(current, rec.ID)) {
		return Changes{}, apperr.NotFound("Record %s (%s) not found", rec.Name, rec.Type)
	}

	steps := plan(current, rec)

	var changes Changes
	var applied []string
	for _, st := range steps {
		var err error
		switch st.op {
		case stepEdit, stepCreate:
			req, encErr := upstream.EncodeValue(rec.Name, rec.Type, rec.TTL, st.value)
			if encErr != nil {
				return changes, encErr
			}
			if st.op == stepEdit {
				_, err = up.EditRecord(ctx, zone, st.id, req)
			} else {
				_, err = up.CreateRecord(ctx, zone, req)
			}
		case stepDelete:
			err = up.DeleteRecord(ctx, zone, st.id)
		}

		if err != nil {
			if len(applied) == 0 {
				return changes, err
			}
			s.log.WithError(err).WithFields(logrus.Fields{
				"name": rec.Name, "type": rec.Type, "applied": len(applied), "planned": len(steps),
			}).Warn("update partially applied")
			return changes, apperr.Partial(
				fmt.Sprintf("Record %s (%s) was partially updated (%d of %d changes); re-list records to see the current state: %s",
					rec.Name, rec.Type, len(applied), len(steps), causeMessage(err)),
				applied, err)
		}

		applied = append(applied, st.String())
		switch st.op {
		case stepEdit:
			changes.Updated++
		case stepDelete:
			changes.Deleted++
		case stepCreate:
			changes.Created++
		}
	}

	s.log.WithFields(logrus.Fields{
		"name": rec.Name, "type": rec.Type,
		"updated": changes.Updated, "deleted": changes.Deleted, "created": changes.Created,
	}).Info("record updated")
	return changes, nil
}

// plan keeps current entries whose value is still desired, deletes the rest
// and creates desired values that have no entry yet.
func plan(current []model.DNSRecord, rec model.RecordInput) []step {
	desired := make(map[string]bool, len(rec.Values))
	for _, v := range rec.Values {
		desired[v] = true
	}

	var edits, deletes, creates []step
	kept := make(map[string]bool)
	for _, r := range current {
		value := currentValue(r)
		if desired[value] && !kept[value] {
			kept[value] = true
			if r.TTL != rec.TTL {
				edits = append(edits, step{op: stepEdit, id: r.ID, value: value})
			}
			continue
		}
		deletes = append(deletes, step{op: stepDelete, id: r.ID, value: value})
	}
	for _, v := range rec.Values {
		if !kept[v] {
			creates = append(creates, step{op: stepCreate, value: v})
		}
	}

	steps := make([]step, 0, len(edits)+len(deletes)+len(creates))
	steps = append(steps, edits...)
	steps = append(steps, deletes...)
	return append(steps, creates...)
}

// DeleteRecord removes the entry with id, or the first (name, type) match
// when id is 0.
func (s *Records) DeleteRecord(ctx context.Context, recordType, name string, id int) error {
	name = strings.ToLower(strings.TrimSpace(name))
	recordType = strings.ToUpper(strings.TrimSpace(recordType))
	if name == "" || recordType == "" {
		return apperr.Validation("Missing required fields: name, type")
	}
	if model.IsProtected(name, recordType) {
		return apperr.Protected(name, recordType)
	}
	up, zone, err := s.creds.Upstream(ctx)
	if err != nil {
		return err
	}

	all, err := up.ListRecords(ctx, zone)
	if err != nil {
		return err
	}
	var target *model.DNSRecord
	candidates := matching(all, name, recordType)
	for i := range candidates {
		if id == 0 || candidates[i].ID == id {
			target = &candidates[i]
			break
		}
	}
	if target == nil {
		return apperr.NotFound("Record %s (%s) not found", name, recordType)
	}
	if model.IsProtected(target.Name, target.Type) {
		return apperr.Protected(target.Name, target.Type)
	}

	if err := up.DeleteRecord(ctx, zone, target.ID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"name": name, "type": recordType, "id": target.ID}).Info("record deleted")
	return nil
}

// validateInput normalizes in and checks it before any upstream call.
// Values come back canonical and deduplicated.
func validateInput(in model.RecordInput, isCreate bool) (model.RecordInput, error) {
	rec := model.RecordInput{
		ID:   in.ID,
		// DigitalOcean stores names lowercased.
		Name: strings.ToLower(strings.TrimSpace(in.Name)),
		Type: strings.ToUpper(strings.TrimSpace(in.Type)),
		TTL:  in.TTL,
	}
	for _, v := range in.Values {
		if v = strings.TrimSpace(v); v != "" {
			rec.Values = append(rec.Values, v)
		}
	}

	var missing []string
	if rec.Name == "" {
		missing = append(missing, "name")
	}
	if rec.Type == "" {
		missing = append(missing, "type")
	}
	if len(rec.Values) == 0 {
		missing = append(missing, "values")
	}
	if len(missing) > 0 {
		if isCreate {
			return rec, apperr.Validation("Missing required fields: name, type, values")
		}
		return rec, apperr.Validation("Missing required fields: %s", strings.Join(missing, ", "))
	}

	if model.IsProtected(rec.Name, rec.Type) {
		return rec, apperr.Protected(rec.Name, rec.Type)
	}
	if !upstream.Supported(rec.Type) {
		return rec, apperr.Validation("Unsupported record type: %s", rec.Type)
	}

	if rec.TTL == 0 {
		rec.TTL = DefaultTTL
	}
	if rec.TTL < MinTTL || rec.TTL > MaxTTL {
		return rec, apperr.Validation("TTL must be between %d and %d seconds", MinTTL, MaxTTL)
	}

	seen := make(map[string]bool, len(rec.Values))
	values := rec.Values[:0]
	for _, v := range rec.Values {
		canonical, err := upstream.Canonical(rec.Type, v)
		if err != nil {
			return rec, err
		}
		if !seen[canonical] {
			seen[canonical] = true
			values = append(values, canonical)
		}
	}
	rec.Values = values

	if rec.Type == "CNAME" && len(rec.Values) > 1 {
		return rec, apperr.Validation("CNAME records can only have one value")
	}
	return rec, nil
}

func matching(records []model.DNSRecord, name, recordType string) []model.DNSRecord {
	var out []model.DNSRecord
	for _, r := range records {
		if r.Name == name && strings.EqualFold(r.Type, recordType) {
			out = append(out, r)
		}
	}
	return out
}

func containsID(records []model.DNSRecord, id int) bool {
	for _, r := range records {
		if r.ID == id {
			return true
		}
	}
	return false
}

// currentValue is the canonical value of an upstream entry; values that do
// not parse compare as-is.
func currentValue(r model.DNSRecord) string {
	if len(r.Values) == 0 {
		return ""
	}
	if v, err := upstream.Canonical(r.Type, r.Values[0]); err == nil {
		return v
	}
	return r.Values[0]
}

func causeMessage(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Message
	}
	return err.Error()
}
