// Package dashboards talks to the OpenSearch Dashboards saved-objects API.
package dashboards

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/telhawk-systems/homehawk/internal/config"
)

const xsrfHeader = "osd-xsrf"

// ObjectRef identifies a saved object.
type ObjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// FoundObject is one hit of a find request.
type FoundObject struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// Title returns the title attribute.
func (f FoundObject) Title() string {
	s, _ := f.Attributes["title"].(string)
	return s
}

// ImportError is a per-object failure reported by an import.
type ImportError struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Error struct {
		Type string `json:"type"`
	} `json:"error"`
}

// ImportResult is the import response body.
type ImportResult struct {
	Success      bool          `json:"success"`
	SuccessCount int           `json:"successCount"`
	Errors       []ImportError `json:"errors,omitempty"`
}

// Client communicates with OpenSearch Dashboards.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// New constructs a new Client.
func New(cfg config.DashboardsConfig) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
			},
		},
	}
}

// Import uploads an NDJSON export. Objects with existing ids are replaced
// when overwrite is set. Per-object failures are returned in the result with
// a nil error.
func (c *Client) Import(ctx context.Context, ndjson []byte, overwrite bool) (*ImportResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "export.ndjson")
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(ndjson); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	q := url.Values{}
	if overwrite {
		q.Set("overwrite", "true")
	}

	var result ImportResult
	if err := c.do(ctx, http.MethodPost, "/api/saved_objects/_import", q, &body, mw.FormDataContentType(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Find lists objects of objType whose title contains search. An empty search
// returns every object of the type.
func (c *Client) Find(ctx context.Context, objType, search string) ([]FoundObject, error) {
	var all []FoundObject
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("type", objType)
		q.Set("per_page", "100")
		q.Set("page", fmt.Sprint(page))
		if search != "" {
			q.Set("search_fields", "title")
			q.Set("search", "*"+search+"*")
		}

		var resp struct {
			Page         int           `json:"page"`
			PerPage      int           `json:"per_page"`
			Total        int           `json:"total"`
			SavedObjects []FoundObject `json:"saved_objects"`
		}
		if err := c.do(ctx, http.MethodGet, "/api/saved_objects/_find", q, nil, "", &resp); err != nil {
			return nil, err
		}

		for _, obj := range resp.SavedObjects {
			// The server search is tokenized; enforce the substring match here.
			if search == "" || strings.Contains(strings.ToLower(obj.Title()), strings.ToLower(search)) {
				all = append(all, obj)
			}
		}
		if len(resp.SavedObjects) == 0 || page*100 >= resp.Total {
			return all, nil
		}
	}
}

// Export returns the NDJSON export of objects, including everything they
// reference when deep is set.
func (c *Client) Export(ctx context.Context, objects []ObjectRef, deep bool) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"objects":               objects,
		"includeReferencesDeep": deep,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var raw rawBody
	if err := c.do(ctx, http.MethodPost, "/api/saved_objects/_export", nil, bytes.NewReader(payload), "application/json", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// rawBody captures a response without decoding it.
type rawBody []byte

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(xsrfHeader, "true")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &errBody)
		if errBody.Message == "" {
			errBody.Message = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("dashboards %s %s: status %d: %s", method, path, resp.StatusCode, errBody.Message)
	}

	if raw, ok := out.(*rawBody); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
