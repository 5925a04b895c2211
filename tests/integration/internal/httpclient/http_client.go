package httpclient

import (
	"bytes"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

// Client wraps http.Client with helpers for JSON requests.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

func New(baseURL, bearer string) *Client {
	return &Client{BaseURL: baseURL, Bearer: bearer, HTTP: &http.Client{}}
}

// Do sends body as JSON and decodes a successful response into out. Extra
// headers are given as key, value pairs.
func (c *Client) Do(method, path string, body, out any, headers ...string) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if out != nil && resp.StatusCode < 300 && len(data) > 0 {
		if err := sonic.Unmarshal(data, out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (c *Client) GetJSON(path string, out any) (*http.Response, error) {
	return c.Do(http.MethodGet, path, nil, out)
}

func (c *Client) PostJSON(path string, body, out any, headers ...string) (*http.Response, error) {
	return c.Do(http.MethodPost, path, body, out, headers...)
}

func (c *Client) PutJSON(path string, body, out any) (*http.Response, error) {
	return c.Do(http.MethodPut, path, body, out)
}

func (c *Client) Delete(path string) (*http.Response, error) {
	return c.Do(http.MethodDelete, path, nil, nil)
}
