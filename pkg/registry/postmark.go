package registry

import (
	"context"
	"errors"
	"strconv"

	"github.com/joeblew999/plat-mailforge/internal/errorx"
	"github.com/mrz1836/postmark"
)

const postmarkService = "postmark"

// TemplateEditor is the subset of the Postmark client the registry needs.
// *postmark.Client satisfies it.
type TemplateEditor interface {
	EditTemplate(ctx context.Context, templateID string, template postmark.Template) (postmark.TemplateInfo, error)
}

// Postmark updates templates in a Postmark server. The template name is used
// as the id-or-alias path segment of the edit call.
type Postmark struct {
	client TemplateEditor
}

// NewPostmark creates a Postmark registry from API tokens.
func NewPostmark(serverToken, accountToken string) (*Postmark, error) {
	if serverToken == "" {
		return nil, ErrMissingKey
	}
	return &Postmark{client: postmark.NewClient(serverToken, accountToken)}, nil
}

// NewPostmarkWithClient creates a Postmark registry around an existing client.
func NewPostmarkWithClient(client TemplateEditor) *Postmark {
	return &Postmark{client: client}
}

// Update replaces the HTML body of the template addressed by tpl.Name and
// marks it active.
func (p *Postmark) Update(ctx context.Context, tpl Template) (Result, error) {
	info, err := p.client.EditTemplate(ctx, tpl.Name, postmark.Template{
		Name:     tpl.Name,
		HTMLBody: tpl.HTML,
		Active:   true,
	})
	if err != nil {
		return nil, postmarkError(err)
	}

	return Result{
		"TemplateID": info.TemplateID,
		"Name":       info.Name,
		"Active":     info.Active,
		"HtmlBody":   tpl.HTML,
	}, nil
}

// postmarkError names the failure by Postmark's API error code, or
// Network_Error when the request never got an API answer.
func postmarkError(err error) error {
	var apiErr postmark.APIError
	if errors.As(err, &apiErr) {
		return errorx.NewServiceError(postmarkService, "ErrorCode_"+strconv.FormatInt(apiErr.ErrorCode, 10), apiErr.Message)
	}
	return errorx.NewServiceError(postmarkService, "Network_Error", err.Error())
}
