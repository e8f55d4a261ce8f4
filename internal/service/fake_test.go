package service

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/digitalocean/godo"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"dodns/internal/apperr"
	"dodns/internal/model"
	"dodns/internal/store"
	"dodns/internal/upstream"
)

// fakeUpstream keeps single-value records in memory and counts calls.
type fakeUpstream struct {
	zone    string
	records []model.DNSRecord
	nextID  int

	calls   int
	writes  []string
	failOn  int // 1-based write number to fail; 0 never fails
	failErr error
}

func newFake(zone string) *fakeUpstream {
	return &fakeUpstream{zone: zone, nextID: 100}
}

func (f *fakeUpstream) seed(name, recordType string, ttl int, value string) int {
	f.nextID++
	f.records = append(f.records, model.DNSRecord{
		ID: f.nextID, Name: name, Type: recordType, TTL: ttl,
		Values: []string{value}, FQDN: model.FQDN(name, f.zone),
	})
	return f.nextID
}

func (f *fakeUpstream) writeFails(op string) error {
	f.writes = append(f.writes, op)
	if f.failOn != 0 && len(f.writes) == f.failOn {
		if f.failErr != nil {
			return f.failErr
		}
		return apperr.Upstream(http.StatusUnprocessableEntity, "Failed: injected", nil)
	}
	return nil
}

func (f *fakeUpstream) GetZone(_ context.Context, zone string) (string, error) {
	f.calls++
	if zone != f.zone {
		return "", apperr.NotFound("DNS zone %q not found in your DigitalOcean account.", zone)
	}
	return zone, nil
}

func (f *fakeUpstream) ListRecords(_ context.Context, zone string) ([]model.DNSRecord, error) {
	f.calls++
	if zone != f.zone {
		return nil, apperr.NotFound("DNS zone %q not found in your DigitalOcean account.", zone)
	}
	out := make([]model.DNSRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeUpstream) CreateRecord(_ context.Context, _ string, req *godo.DomainRecordEditRequest) (model.DNSRecord, error) {
	f.calls++
	if err := f.writeFails("create"); err != nil {
		return model.DNSRecord{}, err
	}
	value := upstream.FormatValue(toDomainRecord(req))
	f.seed(req.Name, req.Type, req.TTL, value)
	return f.records[len(f.records)-1], nil
}

func (f *fakeUpstream) EditRecord(_ context.Context, _ string, id int, req *godo.DomainRecordEditRequest) (model.DNSRecord, error) {
	f.calls++
	if err := f.writeFails("edit"); err != nil {
		return model.DNSRecord{}, err
	}
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].TTL = req.TTL
			f.records[i].Values = []string{upstream.FormatValue(toDomainRecord(req))}
			return f.records[i], nil
		}
	}
	return model.DNSRecord{}, apperr.NotFound("Record %d not found", id)
}

func (f *fakeUpstream) DeleteRecord(_ context.Context, _ string, id int) error {
	f.calls++
	if err := f.writeFails("delete"); err != nil {
		return err
	}
	for i := range f.records {
		if f.records[i].ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("Record %d not found", id)
}

func (f *fakeUpstream) matching(name, recordType string) []model.DNSRecord {
	return matching(f.records, name, recordType)
}

func toDomainRecord(req *godo.DomainRecordEditRequest) godo.DomainRecord {
	return godo.DomainRecord{
		Type: req.Type, Name: req.Name, Data: req.Data, TTL: req.TTL,
		Priority: req.Priority, Port: req.Port, Weight: req.Weight, Flags: req.Flags, Tag: req.Tag,
	}
}

func nullLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

// newTestServices wires Credentials and Records over a file store and fake.
// tokens records every token the connector was asked for.
func newTestServices(t *testing.T, fake *fakeUpstream) (*Credentials, *Records, *[]string) {
	t.Helper()
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	var tokens []string
	connect := func(token string) (Upstream, error) {
		tokens = append(tokens, token)
		return fake, nil
	}
	creds := NewCredentials(st, connect, nullLogger())
	return creds, NewRecords(creds, nullLogger()), &tokens
}

func configure(t *testing.T, creds *Credentials, zone string) {
	t.Helper()
	if _, err := creds.Save(context.Background(), "do-token", zone); err != nil {
		t.Fatalf("Save: %v", err)
	}
}
