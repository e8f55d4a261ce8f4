// Package upstream wraps the DigitalOcean domains API.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"

	"dodns/internal/apperr"
	"dodns/internal/model"
)

const perPage = 200

type Options struct {
	// BaseURL must end with a slash; empty means the public API.
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client issues authenticated, synchronous calls for one API token. It
// never retries.
type Client struct {
	do *godo.Client
}

func New(token string, opts Options) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.NotConfigured()
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), tokenSource)
	httpClient.Timeout = opts.Timeout

	var clientOpts []godo.ClientOpt
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, godo.SetBaseURL(opts.BaseURL))
	}
	if opts.UserAgent != "" {
		clientOpts = append(clientOpts, godo.SetUserAgent(opts.UserAgent))
	}

	do, err := godo.New(httpClient, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating DigitalOcean client: %w", err)
	}
	return &Client{do: do}, nil
}

// GetZone resolves the zone, returning its canonical name.
func (c *Client) GetZone(ctx context.Context, zone string) (string, error) {
	d, _, err := c.do.Domains.Get(ctx, zone)
	if err != nil {
		return "", translate(err, "Connection failed",
			fmt.Sprintf("DNS zone %q not found in your DigitalOcean account.", zone))
	}
	return d.Name, nil
}

// ListRecords returns every record in the zone in upstream order, following
// pagination until the last page.
func (c *Client) ListRecords(ctx context.Context, zone string) ([]model.DNSRecord, error) {
	var records []model.DNSRecord
	opt := &godo.ListOptions{Page: 1, PerPage: perPage}

	for {
		page, resp, err := c.do.Domains.Records(ctx, zone, opt)
		if err != nil {
			return nil, translate(err, "Failed to fetch records",
				fmt.Sprintf("DNS zone %q not found in your DigitalOcean account.", zone))
		}
		for _, r := range page {
			records = append(records, toModel(r, zone))
		}

		if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
		current, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, apperr.Upstream(0, "Failed to fetch records: invalid pagination links", err)
		}
		if current+1 <= opt.Page {
			return nil, apperr.Upstream(0, "Failed to fetch records: pagination did not advance", nil)
		}
		opt.Page = current + 1
	}
	return records, nil
}

func (c *Client) CreateRecord(ctx context.Context, zone string, req *godo.DomainRecordEditRequest) (model.DNSRecord, error) {
	r, _, err := c.do.Domains.CreateRecord(ctx, zone, req)
	if err != nil {
		return model.DNSRecord{}, translate(err, "Failed to create record",
			fmt.Sprintf("DNS zone %q not found in your DigitalOcean account.", zone))
	}
	return toModel(*r, zone), nil
}

func (c *Client) EditRecord(ctx context.Context, zone string, id int, req *godo.DomainRecordEditRequest) (model.DNSRecord, error) {
	r, _, err := c.do.Domains.EditRecord(ctx, zone, id, req)
	if err != nil {
		return model.DNSRecord{}, translate(err, "Failed to update record",
			fmt.Sprintf("Record %d not found", id))
	}
	return toModel(*r, zone), nil
}

func (c *Client) DeleteRecord(ctx context.Context, zone string, id int) error {
	if _, err := c.do.Domains.DeleteRecord(ctx, zone, id); err != nil {
		return translate(err, "Failed to delete record", fmt.Sprintf("Record %d not found", id))
	}
	return nil
}

func toModel(r godo.DomainRecord, zone string) model.DNSRecord {
	rec := model.DNSRecord{
		ID:     r.ID,
		Name:   r.Name,
		Type:   r.Type,
		TTL:    r.TTL,
		FQDN:   model.FQDN(r.Name, zone),
		Values: []string{},
	}
	if r.Data != "" {
		rec.Values = append(rec.Values, FormatValue(r))
	}
	return rec
}

// translate maps godo failures onto application errors.
func translate(err error, action, notFound string) error {
	var er *godo.ErrorResponse
	if !errors.As(err, &er) || er.Response == nil {
		// Transport failures: DNS, refused connections, timeouts.
		return apperr.Upstream(0, action+": "+err.Error(), err)
	}

	status := er.Response.StatusCode
	msg := er.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.UpstreamAuth(status, err)
	case http.StatusNotFound:
		e := apperr.NotFound("%s", notFound)
		e.Err = err
		return e
	default:
		return apperr.Upstream(status, action+": "+msg, err)
	}
}
