// Package downloader fetches estimator description documents from a model
// hub.
package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Default HuggingFace endpoints.
const (
	DefaultAPIURL = "https://huggingface.co/api/models/"
	DefaultCDNURL = "https://huggingface.co/"
)

// documentSuffixes lists the file types recognised as estimator documents.
var documentSuffixes = []string{".json", ".yaml", ".yml"}

// ModelSource fetches the estimator documents of a model repository.
type ModelSource interface {
	// DownloadModel downloads the documents of modelID into destination.
	DownloadModel(ctx context.Context, modelID string, destination string) (*DownloadResult, error)
}

// DownloadResult lists the local paths of the downloaded documents.
type DownloadResult struct {
	DocumentPaths []string
}

// Downloader handles the overall download process using a ModelSource.
type Downloader struct {
	source ModelSource
}

// NewDownloader creates a new Downloader with the given ModelSource.
func NewDownloader(source ModelSource) *Downloader {
	return &Downloader{source: source}
}

// Download fetches the documents of modelID into destination.
func (d *Downloader) Download(ctx context.Context, modelID string, destination string) (*DownloadResult, error) {
	if modelID == "" {
		return nil, fmt.Errorf("model ID is required")
	}
	return d.source.DownloadModel(ctx, modelID, destination)
}

// HuggingFaceSource implements ModelSource for the HuggingFace Hub.
type HuggingFaceSource struct {
	client *http.Client
	apiURL string
	cdnURL string
	token  string
}

// Option configures a HuggingFaceSource.
type Option func(*HuggingFaceSource)

// WithAPIURL overrides the model info endpoint.
func WithAPIURL(u string) Option {
	return func(h *HuggingFaceSource) {
		if u != "" {
			h.apiURL = u
		}
	}
}

// WithCDNURL overrides the file download base URL.
func WithCDNURL(u string) Option {
	return func(h *HuggingFaceSource) {
		if u != "" {
			h.cdnURL = u
		}
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(h *HuggingFaceSource) { h.token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HuggingFaceSource) { h.client = c }
}

// NewHuggingFaceSource creates a new HuggingFaceSource.
func NewHuggingFaceSource(opts ...Option) *HuggingFaceSource {
	h := &HuggingFaceSource{
		client: &http.Client{},
		apiURL: DefaultAPIURL,
		cdnURL: DefaultCDNURL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HuggingFaceModelInfo is the part of the hub API response used here.
type HuggingFaceModelInfo struct {
	ModelID  string `json:"modelId"`
	Siblings []struct {
		RPath string `json:"rfilename"`
	} `json:"siblings"`
}

func (h *HuggingFaceSource) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	return h.client.Do(req)
}

// DownloadModel downloads every JSON or YAML file of modelID.
func (h *HuggingFaceSource) DownloadModel(ctx context.Context, modelID string, destination string) (result *DownloadResult, err error) {
	apiURL := h.apiURL + modelID

	resp, err := h.get(ctx, apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model info from HuggingFace API: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body for %s: %w", apiURL, cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HuggingFace API returned non-OK status: %s", resp.Status)
	}

	var modelInfo HuggingFaceModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&modelInfo); err != nil {
		return nil, fmt.Errorf("failed to decode HuggingFace API response: %w", err)
	}

	result = &DownloadResult{}
	for _, sibling := range modelInfo.Siblings {
		rPath := sibling.RPath
		if !isDocument(rPath) {
			continue
		}
		localPath := filepath.Join(destination, filepath.Base(rPath))
		downloadURL := strings.TrimSuffix(h.cdnURL, "/") + "/" + modelID + "/resolve/main/" + rPath
		if err := h.downloadFile(ctx, downloadURL, localPath); err != nil {
			return nil, fmt.Errorf("failed to download document %s: %w", rPath, err)
		}
		result.DocumentPaths = append(result.DocumentPaths, localPath)
	}

	if len(result.DocumentPaths) == 0 {
		return nil, fmt.Errorf("no estimator documents found for model ID: %s", modelID)
	}
	return result, nil
}

func isDocument(path string) bool {
	for _, s := range documentSuffixes {
		if strings.HasSuffix(strings.ToLower(path), s) {
			return true
		}
	}
	return false
}

// downloadFile downloads a single file from url to filePath.
func (h *HuggingFaceSource) downloadFile(ctx context.Context, url, filePath string) (err error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	resp, err := h.get(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to download file from %s: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body for %s: %w", url, cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download file from %s: status code %s", url, resp.Status)
	}

	out, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close file %s: %w", filePath, cerr)
		}
	}()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write file %s: %w", filePath, err)
	}
	return nil
}
