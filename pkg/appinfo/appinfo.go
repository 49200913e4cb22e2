// Package appinfo looks up app branding on the gateway.
package appinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Theme selects the logo variant.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ErrInvalidTheme is returned for themes other than dark and light.
var ErrInvalidTheme = errors.New("appinfo: theme must be dark or light")

// Images holds the logo URLs for both orientations.
type Images struct {
	Horizontal string `json:"horizontal"`
	Vertical   string `json:"vertical"`
}

// Info is the app theme document served by the gateway. Fields the
// gateway adds beyond name and theme are kept in Fields.
type Info struct {
	Name   string                     `json:"name,omitempty"`
	Theme  string                     `json:"theme,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

// UnmarshalJSON keeps every key of the gateway document.
func (i *Info) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*i = Info{Fields: fields}
	if raw, ok := fields["name"]; ok {
		_ = json.Unmarshal(raw, &i.Name)
	}
	if raw, ok := fields["theme"]; ok {
		_ = json.Unmarshal(raw, &i.Theme)
	}
	return nil
}

// ImageURLs builds the logo URLs for appID against gatewayURL.
func ImageURLs(appID string, theme Theme, gatewayURL string) (Images, error) {
	if theme != ThemeDark && theme != ThemeLight {
		return Images{}, ErrInvalidTheme
	}
	base, err := resolve(gatewayURL, "/api/v2/app/"+url.PathEscape(appID)+"/logo", url.Values{"type": {string(theme)}})
	if err != nil {
		return Images{}, err
	}
	return Images{
		Horizontal: base + "&orientation=horizontal",
		Vertical:   base + "&orientation=vertical",
	}, nil
}

// Fetch retrieves the theme document for appID.
func Fetch(ctx context.Context, client *http.Client, appID, gatewayURL string) (*Info, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := resolve(gatewayURL, "/api/v1/get-app-theme/", url.Values{"id": {appID}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch app info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch app info: %s: %s", resp.Status, body)
	}
	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode app info: %w", err)
	}
	return &info, nil
}

func resolve(gatewayURL, path string, query url.Values) (string, error) {
	base, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("gateway url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("gateway url %q must be absolute", gatewayURL)
	}
	ref := &url.URL{Path: path, RawQuery: query.Encode()}
	return base.ResolveReference(ref).String(), nil
}
