package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultDirectoryTimeout = 5 * time.Second

var _ Directory = (*HTTPDirectory)(nil)

// HTTPDirectory is a directory client against the user-profile service.
type HTTPDirectory struct {
	client  *resty.Client
	baseURL string
}

type usersByRoleResponse struct {
	UserIDs []string `json:"userIds"`
}

type userLocationsResponse struct {
	Locations []UserLocation `json:"locations"`
}

func NewHTTPDirectory(baseURL string) (*HTTPDirectory, error) {
	client := resty.New()
	client.SetTimeout(defaultDirectoryTimeout)
	client.SetRetryCount(0)

	return NewHTTPDirectoryWithClient(baseURL, client)
}

func NewHTTPDirectoryWithClient(baseURL string, client *resty.Client) (*HTTPDirectory, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("directory base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid directory base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	return &HTTPDirectory{client: client, baseURL: trimmed}, nil
}

func (d *HTTPDirectory) UsersByRole(ctx context.Context, role string) ([]string, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, fmt.Errorf("role is required")
	}

	var body usersByRoleResponse
	response, err := d.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("%s/v1/roles/%s/users", d.baseURL, url.PathEscape(role)))
	if err != nil {
		return nil, fmt.Errorf("directory role lookup failed: %w", err)
	}
	if response.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if response.IsError() {
		return nil, fmt.Errorf("directory role lookup returned status %d", response.StatusCode())
	}

	return body.UserIDs, nil
}

func (d *HTTPDirectory) UserLocations(ctx context.Context) ([]UserLocation, error) {
	var body userLocationsResponse
	response, err := d.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(d.baseURL + "/v1/users/locations")
	if err != nil {
		return nil, fmt.Errorf("directory location lookup failed: %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("directory location lookup returned status %d", response.StatusCode())
	}

	return body.Locations, nil
}
