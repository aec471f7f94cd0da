// Package controlplane supplies the concrete Provider implementations that
// routing.DirectResolver, boundary.Client and tablematch.Existence need:
// plain JSON-over-HTTP clients against the routing-table and time-boundary
// control-plane services named in config.RoutingConfig. The wire shape of
// that control plane is an external contract (see internal/broker/routing
// and internal/broker/boundary's package docs); this is one concrete
// transport a deployment can plug in from cmd/broker, not a requirement of
// the core packages themselves.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"querybroker/internal/broker/model"
	"querybroker/pkg/config"
)

// HTTPClient is a small JSON-over-HTTP client shared by the routing-table
// and time-boundary lookups, and by table existence checks.
type HTTPClient struct {
	base   string
	client *http.Client
}

// NewHTTPClient builds a client addressed at endpoint.
func NewHTTPClient(endpoint config.ServiceEndpoint) *HTTPClient {
	scheme := "http"
	if endpoint.TLS {
		scheme = "https"
	}
	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		base:   fmt.Sprintf("%s://%s", scheme, endpoint.Address()),
		client: &http.Client{Timeout: timeout},
	}
}

type wireSegmentGroup struct {
	Replicas []wireServer `json:"replicas"`
	Segments []string     `json:"segments"`
}

type wireServer struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
}

// Lookup satisfies routing.Provider.
func (c *HTTPClient) Lookup(ctx context.Context, physicalTableName string, options []string) ([]model.SegmentGroup, error) {
	url := fmt.Sprintf("%s/routing/%s", c.base, physicalTableName)
	if len(options) > 0 {
		url += "?options=" + strings.Join(options, ",")
	}

	var wire []wireSegmentGroup
	if err := c.getJSON(ctx, url, &wire); err != nil {
		return nil, err
	}

	groups := make([]model.SegmentGroup, 0, len(wire))
	for _, g := range wire {
		replicas := make([]model.ServerInstance, 0, len(g.Replicas))
		for _, r := range g.Replicas {
			replicas = append(replicas, model.ServerInstance{Hostname: r.Hostname, Port: r.Port})
		}
		groups = append(groups, model.SegmentGroup{Replicas: replicas, Segments: model.NewSegmentIDSet(g.Segments...)})
	}
	return groups, nil
}

type wireTimeBoundary struct {
	Present bool   `json:"present"`
	Column  string `json:"column,omitempty"`
	Value   string `json:"value,omitempty"`
}

// GetTimeBoundaryInfoFor satisfies boundary.Provider.
func (c *HTTPClient) GetTimeBoundaryInfoFor(ctx context.Context, offlineTableName string) (*model.TimeBoundaryInfo, error) {
	url := fmt.Sprintf("%s/boundary/%s", c.base, offlineTableName)

	var wire wireTimeBoundary
	if err := c.getJSON(ctx, url, &wire); err != nil {
		return nil, err
	}
	if !wire.Present {
		return nil, nil
	}
	return &model.TimeBoundaryInfo{TimeColumn: wire.Column, TimeValue: wire.Value}, nil
}

type wireExistence struct {
	Exists bool `json:"exists"`
}

// Exists satisfies tablematch.Existence.
func (c *HTTPClient) Exists(ctx context.Context, physicalTableName string) (bool, error) {
	url := fmt.Sprintf("%s/tables/%s", c.base, physicalTableName)

	var wire wireExistence
	if err := c.getJSON(ctx, url, &wire); err != nil {
		return false, err
	}
	return wire.Exists, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control plane request to %s failed with status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
