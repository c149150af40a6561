package vultr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

const (
	defaultAPI = "https://api.vultr.com/v2"
	Group      = "vultr"
)

type Provider struct {
	cfg    prov.Config
	base   string
	client *prov.RetryableHTTPClient
}

var _ prov.Provider = (*Provider)(nil)

func New(cfg prov.Config) *Provider {
	base := cfg.Providers.Vultr.BaseURL
	if base == "" {
		base = defaultAPI
	}
	return &Provider{cfg: cfg, base: base, client: prov.NewRetryableHTTPClient(30*time.Second, 5)}
}

// WithClient swaps the HTTP client, used by tests to shorten retries.
func (p *Provider) WithClient(c *prov.RetryableHTTPClient) *Provider {
	p.client = c
	return p
}

func (p *Provider) Name() string { return "vultr" }

type vultrInstance struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	MainIP       string   `json:"main_ip"`
	Status       string   `json:"status"`
	PowerStatus  string   `json:"power_status"`
	ServerStatus string   `json:"server_status"`
	Tags         []string `json:"tags"`
}

type vultrListResp struct {
	Instances []vultrInstance `json:"instances"`
	Meta      struct {
		Links struct {
			Next string `json:"next"`
		} `json:"links"`
	} `json:"meta"`
}

type vultrCreateReq struct {
	Region   string   `json:"region"`
	Plan     string   `json:"plan"`
	OSID     int      `json:"os_id"`
	Label    string   `json:"label"`
	UserData string   `json:"user_data,omitempty"`
	Tags     []string `json:"tags"`
}

type vultrCreateResp struct {
	Instance vultrInstance `json:"instance"`
}

func (p *Provider) token() (string, error) {
	t := p.cfg.Providers.Vultr.Token
	if t == "" {
		return "", fmt.Errorf("vultr token missing; set providers.vultr.token or VULTR_TOKEN")
	}
	return t, nil
}

func (p *Provider) ListInstances(ctx context.Context, fleet string) ([]prov.InstanceRecord, error) {
	tok, err := p.token()
	if err != nil {
		return nil, err
	}
	var records []prov.InstanceRecord
	cursor := ""
	for {
		q := url.Values{"tag": {fleet}, "per_page": {"100"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var list vultrListResp
		if err := p.doJSON(ctx, tok, http.MethodGet, "/instances?"+q.Encode(), nil, &list); err != nil {
			return nil, fmt.Errorf("list instances: %w", err)
		}
		for _, inst := range list.Instances {
			records = append(records, toRecord(inst))
		}
		cursor = list.Meta.Links.Next
		if cursor == "" {
			return records, nil
		}
	}
}

func (p *Provider) CreateInstances(ctx context.Context, req prov.CreateRequest) ([]prov.InstanceRecord, error) {
	tok, err := p.token()
	if err != nil {
		return nil, err
	}
	vc := p.cfg.Providers.Vultr
	region := firstNonEmpty(req.Region, vc.Region, "ewr")
	plan := firstNonEmpty(req.Size, vc.Plan, "vc2-1c-1gb")
	osid := vc.OSID
	if osid == 0 {
		osid = 2284 // Ubuntu 24.04 x64
	}
	userData := ""
	if req.SSHKey != "" {
		userData = base64.StdEncoding.EncodeToString([]byte(prov.CloudInitUserData(req.SSHUser, req.SSHKey, p.cfg.Defaults.RemoteBase)))
	}

	var records []prov.InstanceRecord
	for i := 0; i < req.Count; i++ {
		label := fmt.Sprintf("%s-%d", req.Fleet, i+1)
		payload := vultrCreateReq{Region: region, Plan: plan, OSID: osid, Label: label, UserData: userData, Tags: []string{req.Fleet}}
		var created vultrCreateResp
		if err := p.doJSON(ctx, tok, http.MethodPost, "/instances", payload, &created); err != nil {
			return records, fmt.Errorf("create instance %s: %w", label, err)
		}
		records = append(records, toRecord(created.Instance))
	}
	return records, nil
}

func (p *Provider) TerminateInstances(ctx context.Context, ids []string) error {
	tok, err := p.token()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := p.doJSON(ctx, tok, http.MethodDelete, "/instances/"+url.PathEscape(id), nil, nil); err != nil {
			return fmt.Errorf("delete instance %s: %w", id, err)
		}
	}
	return nil
}

func (p *Provider) doJSON(ctx context.Context, token, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vultr api status %d: %s", resp.StatusCode, string(errorBody))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func toRecord(inst vultrInstance) prov.InstanceRecord {
	addr := inst.MainIP
	if addr == "0.0.0.0" {
		addr = ""
	}
	return prov.InstanceRecord{ID: inst.ID, Address: addr, State: mapState(inst), Group: Group}
}

func mapState(inst vultrInstance) prov.State {
	switch {
	case inst.Status == "active" && inst.PowerStatus == "running" && inst.ServerStatus == "ok":
		return prov.StateRunning
	case inst.Status == "pending" || inst.ServerStatus == "installingbooting" || inst.ServerStatus == "none":
		return prov.StatePending
	default:
		return prov.StateOther
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
