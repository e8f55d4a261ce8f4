package service

import (
	"context"

	"github.com/digitalocean/godo"

	"dodns/internal/model"
	"dodns/internal/upstream"
)

// Upstream is the part of upstream.Client the services depend on.
type Upstream interface {
	GetZone(ctx context.Context, zone string) (string, error)
	ListRecords(ctx context.Context, zone string) ([]model.DNSRecord, error)
	CreateRecord(ctx context.Context, zone string, req *godo.DomainRecordEditRequest) (model.DNSRecord, error)
	EditRecord(ctx context.Context, zone string, id int, req *godo.DomainRecordEditRequest) (model.DNSRecord, error)
	DeleteRecord(ctx context.Context, zone string, id int) error
}

// Connector builds an Upstream authenticated with token.
type Connector func(token string) (Upstream, error)

// DigitalOcean returns a Connector backed by the godo client.
func DigitalOcean(opts upstream.Options) Connector {
	return func(token string) (Upstream, error) {
		c, err := upstream.New(token, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
