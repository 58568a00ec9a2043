package contexttracker

import (
	"context"
	"net/url"
	"strings"

	"github.com/always-cache/fusion-client/httpclient"
)

// ContextType names a kind of context, e.g. a project or a contract.
type ContextType string

// Context is a unit of work scope the session is bound to.
type Context struct {
	ID         string         `json:"id"`
	Type       ContextType    `json:"type"`
	Title      string         `json:"title,omitempty"`
	ExternalID string         `json:"externalId,omitempty"`
	Value      map[string]any `json:"value,omitempty"`
}

// ContextService looks up contexts and their relations.
type ContextService interface {
	GetContext(ctx context.Context, id string) (*Context, error)
	GetRelatedContexts(ctx context.Context, id string, requiredType ContextType) ([]Context, error)
}

// HTTPContextService is a ContextService backed by a remote context API.
type HTTPContextService struct {
	client  *httpclient.Client
	baseURL string
}

func NewHTTPContextService(client *httpclient.Client, baseURL string) *HTTPContextService {
	return &HTTPContextService{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (s *HTTPContextService) GetContext(ctx context.Context, id string) (*Context, error) {
	res, err := httpclient.Get[Context](ctx, s.client, s.contextURL(id))
	if err != nil {
		return nil, err
	}
	c := res.Data
	return &c, nil
}

func (s *HTTPContextService) GetRelatedContexts(ctx context.Context, id string, requiredType ContextType) ([]Context, error) {
	query := url.Values{}
	query.Set("type", string(requiredType))
	res, err := httpclient.Get[[]Context](ctx, s.client, s.contextURL(id)+"/relations?"+query.Encode())
	if err != nil {
		return nil, err
	}
	// the response is shared between deduplicated callers
	related := make([]Context, len(res.Data))
	copy(related, res.Data)
	return related, nil
}

func (s *HTTPContextService) contextURL(id string) string {
	return s.baseURL + "/contexts/" + url.PathEscape(id)
}
