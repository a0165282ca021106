// Package litmus submits rendered emails to the Litmus email-testing API.
package litmus

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joeblew999/plat-mailforge/internal/errorx"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpc"
)

const serviceName = "litmus"

// DefaultApplications are the clients tested when none are configured.
var DefaultApplications = []string{"applemail16", "gmailnew", "ffgmailnew", "chromegmailnew", "iphone14", "ol2019"}

// ErrInvalidConfig is returned when the account URL or credentials are missing.
var ErrInvalidConfig = errors.New("litmus: url, username and password are required")

// Config holds the account credentials and test defaults.
type Config struct {
	URL          string
	Username     string
	Password     string
	Subject      string
	Applications []string
}

// Email is one rendered page to test.
type Email struct {
	Name string
	HTML string
}

// Result identifies the test set created for an email.
type Result struct {
	Name   string
	TestID string
}

// Client talks to the Litmus API.
type Client struct {
	cfg  Config
	http httpc.Service
}

// NewClient creates a client for cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, ErrInvalidConfig
	}
	if len(cfg.Applications) == 0 {
		cfg.Applications = DefaultApplications
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &Client{cfg: cfg, http: httpc.NewService(serviceName)}, nil
}

type testSet struct {
	XMLName      xml.Name     `xml:"test_set"`
	Applications applications `xml:"applications"`
	SaveDefaults bool         `xml:"save_defaults"`
	UseDefaults  bool         `xml:"use_defaults"`
	Source       emailSource  `xml:"email_source"`
}

type applications struct {
	Type  string        `xml:"type,attr"`
	Items []application `xml:"application"`
}

type application struct {
	Code string `xml:"code"`
}

type emailSource struct {
	Body    cdata  `xml:"body"`
	Subject string `xml:"subject"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

type testSetResponse struct {
	ID string `xml:"id"`
}

type errorResponse struct {
	Errors []string `xml:"error"`
}

// Submit creates one test set per email. The first failure stops the batch
// and is returned as an *errorx.ServiceError.
func (c *Client) Submit(ctx context.Context, emails []Email) ([]Result, error) {
	results := make([]Result, 0, len(emails))
	for _, e := range emails {
		id, err := c.submit(ctx, e)
		if err != nil {
			return results, err
		}
		logx.WithContext(ctx).Infow("Litmus test created",
			logx.Field("email", e.Name),
			logx.Field("test_id", id),
		)
		results = append(results, Result{Name: e.Name, TestID: id})
	}
	return results, nil
}

func (c *Client) submit(ctx context.Context, e Email) (string, error) {
	set := testSet{
		Applications: applications{Type: "array"},
		Source: emailSource{
			Body:    cdata{Text: e.HTML},
			Subject: c.subject(e),
		},
	}
	for _, code := range c.cfg.Applications {
		set.Applications.Items = append(set.Applications.Items, application{Code: code})
	}

	body, err := xml.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encode test set for %s: %w", e.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/emails.xml",
		bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return "", fmt.Errorf("create request for %s: %w", e.Name, err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Accept", "application/xml")

	resp, err := c.http.DoRequest(req)
	if err != nil {
		return "", errorx.NewServiceError(serviceName, e.Name, err.Error())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read litmus response for %s: %w", e.Name, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", errorx.NewServiceError(serviceName, e.Name, failureMessage(resp.Status, payload))
	}

	var created testSetResponse
	if err := xml.Unmarshal(payload, &created); err != nil {
		return "", fmt.Errorf("decode litmus response for %s: %w", e.Name, err)
	}
	return created.ID, nil
}

func (c *Client) subject(e Email) string {
	if c.cfg.Subject != "" {
		return c.cfg.Subject
	}
	return e.Name
}

func failureMessage(status string, payload []byte) string {
	var er errorResponse
	if xml.Unmarshal(payload, &er) == nil && len(er.Errors) > 0 {
		return strings.Join(er.Errors, "; ")
	}
	if msg := strings.TrimSpace(string(payload)); msg != "" {
		return msg
	}
	return status
}
