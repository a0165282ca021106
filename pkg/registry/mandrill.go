package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joeblew999/plat-mailforge/internal/errorx"
	"github.com/zeromicro/go-zero/core/jsonx"
	"github.com/zeromicro/go-zero/rest/httpc"
)

// MandrillEndpoint is the Mandrill API base URL.
const MandrillEndpoint = "https://mandrillapp.com/api/1.0"

const mandrillService = "mandrill"

// Mandrill updates templates through the Mandrill templates API.
type Mandrill struct {
	key      string
	endpoint string
	http     httpc.Service
}

// MandrillOption configures a Mandrill registry.
type MandrillOption func(*Mandrill)

// WithEndpoint overrides the API base URL.
func WithEndpoint(url string) MandrillOption {
	return func(m *Mandrill) { m.endpoint = strings.TrimRight(url, "/") }
}

// NewMandrill creates a Mandrill registry for the given API key.
func NewMandrill(key string, opts ...MandrillOption) (*Mandrill, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	m := &Mandrill{
		key:      key,
		endpoint: MandrillEndpoint,
		http:     httpc.NewService(mandrillService),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type mandrillUpdate struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Code    string `json:"code"`
	Publish bool   `json:"publish"`
}

type mandrillError struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Update replaces the template code and publishes it. Any error response is
// returned as an *errorx.ServiceError.
func (m *Mandrill) Update(ctx context.Context, tpl Template) (Result, error) {
	body, err := jsonx.Marshal(mandrillUpdate{Key: m.key, Name: tpl.Name, Code: tpl.HTML, Publish: true})
	if err != nil {
		return nil, fmt.Errorf("encode mandrill request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/templates/update.json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create mandrill request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.DoRequest(req)
	if err != nil {
		return nil, errorx.NewServiceError(mandrillService, "Network_Error", err.Error())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read mandrill response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var me mandrillError
		if jsonx.Unmarshal(payload, &me) != nil || me.Name == "" {
			return nil, errorx.NewServiceError(mandrillService, "HTTP_Error", resp.Status)
		}
		return nil, errorx.NewServiceError(mandrillService, me.Name, me.Message)
	}

	var result Result
	if err := jsonx.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode mandrill response: %w", err)
	}
	return result, nil
}
