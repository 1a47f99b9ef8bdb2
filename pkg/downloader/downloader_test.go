package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// MockModelSource is a mock implementation of the ModelSource interface for testing.
type MockModelSource struct {
	mockDownloadModel func(ctx context.Context, modelID string, destination string) (*DownloadResult, error)
}

func (m *MockModelSource) DownloadModel(ctx context.Context, modelID string, destination string) (*DownloadResult, error) {
	if m.mockDownloadModel != nil {
		return m.mockDownloadModel(ctx, modelID, destination)
	}
	return nil, errors.New("DownloadModel not implemented for mock")
}

func TestNewDownloader(t *testing.T) {
	mockSource := &MockModelSource{}
	d := NewDownloader(mockSource)

	if d == nil {
		t.Fatal("NewDownloader returned nil")
	}
	if d.source != mockSource {
		t.Errorf("NewDownloader did not set the correct ModelSource")
	}
}

func TestDownloader_Download(t *testing.T) {
	tests := []struct {
		name          string
		modelID       string
		mockResult    *DownloadResult
		mockError     error
		expectedError bool
	}{
		{
			name:    "Successful download",
			modelID: "test-model",
			mockResult: &DownloadResult{
				DocumentPaths: []string{"/tmp/download/estimator.yaml"},
			},
		},
		{
			name:          "Download with error",
			modelID:       "error-model",
			mockError:     errors.New("mock download error"),
			expectedError: true,
		},
		{
			name:          "Empty model ID",
			modelID:       "",
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSource := &MockModelSource{
				mockDownloadModel: func(_ context.Context, modelID string, destination string) (*DownloadResult, error) {
					return tt.mockResult, tt.mockError
				},
			}
			d := NewDownloader(mockSource)

			result, err := d.Download(context.Background(), tt.modelID, "/tmp/download")

			if tt.expectedError {
				if err == nil {
					t.Errorf("Expected an error, but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("Expected no error, but got: %v", err)
			}
			if result == nil {
				t.Fatal("Expected a DownloadResult, but got nil")
			}
			if len(result.DocumentPaths) != len(tt.mockResult.DocumentPaths) {
				t.Errorf("Expected %d document paths, got %d", len(tt.mockResult.DocumentPaths), len(result.DocumentPaths))
			}
		})
	}
}

func Test_downloadFile(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name           string
		serverHandler  http.HandlerFunc
		fileName       string
		expectedErrMsg string
	}{
		{
			name: "Successful download",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				if _, err := fmt.Fprint(w, "test content"); err != nil {
					t.Errorf("Error writing to response writer: %v", err)
				}
			},
			fileName: "nested/test.yaml",
		},
		{
			name: "HTTP error status",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Not Found", http.StatusNotFound)
			},
			fileName:       "error.yaml",
			expectedErrMsg: "status code 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.serverHandler)
			defer server.Close()

			h := NewHuggingFaceSource()
			filePath := filepath.Join(tempDir, tt.fileName)
			err := h.downloadFile(context.Background(), server.URL, filePath)

			if tt.expectedErrMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.expectedErrMsg) {
					t.Errorf("Expected error containing \"%s\", got \"%v\"", tt.expectedErrMsg, err)
				}
				if _, fileErr := os.Stat(filePath); !os.IsNotExist(fileErr) {
					t.Errorf("File %s should not exist on error", filePath)
				}
				return
			}
			if err != nil {
				t.Errorf("Expected no error, but got: %v", err)
			}
			content, readErr := os.ReadFile(filePath)
			if readErr != nil {
				t.Fatalf("Failed to read downloaded file: %v", readErr)
			}
			if string(content) != "test content" {
				t.Errorf("Downloaded content mismatch: got \"%s\", want \"test content\"", string(content))
			}
		})
	}
}

func TestIsDocument(t *testing.T) {
	tests := map[string]bool{
		"estimator.yaml":     true,
		"nested/model.YML":   true,
		"config.json":        true,
		"model.onnx":         false,
		"README.md":          false,
		"weights.safetensor": false,
	}
	for path, want := range tests {
		if got := isDocument(path); got != want {
			t.Errorf("isDocument(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestHuggingFaceSource_DownloadModel(t *testing.T) {
	tests := []struct {
		name          string
		modelID       string
		apiHandler    http.HandlerFunc
		cdnHandler    http.HandlerFunc
		expectedDocs  []string
		expectedError string
	}{
		{
			name:    "Successful download of estimator documents",
			modelID: "test-org/test-model",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				if _, err := fmt.Fprint(w, `{"modelId": "test-org/test-model","siblings": [{"rfilename": "ensemble.yaml"},{"rfilename": "README.md"},{"rfilename": "params/tree.json"}]}`); err != nil {
					t.Errorf("Error writing to response writer: %v", err)
				}
			},
			cdnHandler: func(w http.ResponseWriter, r *http.Request) {
				switch {
				case strings.HasSuffix(r.URL.Path, "/resolve/main/ensemble.yaml"):
					fmt.Fprint(w, "kind: voting-regressor\n")
				case strings.HasSuffix(r.URL.Path, "/resolve/main/params/tree.json"):
					fmt.Fprint(w, `{"kind": "decision-tree-regressor"}`)
				default:
					http.Error(w, "Not Found", http.StatusNotFound)
				}
			},
			expectedDocs: []string{"ensemble.yaml", "tree.json"},
		},
		{
			name:    "Model not found on HuggingFace API",
			modelID: "nonexistent/model",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Not Found", http.StatusNotFound)
			},
			expectedError: "HuggingFace API returned non-OK status: 404 Not Found",
		},
		{
			name:    "No documents in repository",
			modelID: "test-org/no-docs",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"modelId": "test-org/no-docs","siblings": [{"rfilename": "model.onnx"}]}`)
			},
			expectedError: "no estimator documents found for model ID: test-org/no-docs",
		},
		{
			name:    "CDN download failure",
			modelID: "test-org/cdn-fail",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"modelId": "test-org/cdn-fail","siblings": [{"rfilename": "estimator.yml"}]}`)
			},
			cdnHandler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			},
			expectedError: "failed to download document estimator.yml: failed to download file from",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			apiServer := httptest.NewServer(tt.apiHandler)
			defer apiServer.Close()

			cdnHandler := tt.cdnHandler
			if cdnHandler == nil {
				cdnHandler = func(w http.ResponseWriter, r *http.Request) {
					http.Error(w, "Not Found", http.StatusNotFound)
				}
			}
			cdnServer := httptest.NewServer(cdnHandler)
			defer cdnServer.Close()

			hfSource := NewHuggingFaceSource(WithAPIURL(apiServer.URL+"/"), WithCDNURL(cdnServer.URL+"/"))
			result, err := hfSource.DownloadModel(context.Background(), tt.modelID, tempDir)

			if tt.expectedError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("Expected error containing \"%s\", got \"%v\"", tt.expectedError, err)
				}
				if result != nil {
					t.Errorf("Expected nil result on error, got %v", result)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, but got: %v", err)
			}
			if len(result.DocumentPaths) != len(tt.expectedDocs) {
				t.Fatalf("Expected %d documents, got %v", len(tt.expectedDocs), result.DocumentPaths)
			}
			for i, doc := range tt.expectedDocs {
				want := filepath.Join(tempDir, doc)
				if result.DocumentPaths[i] != want {
					t.Errorf("Expected document %s, got %s", want, result.DocumentPaths[i])
				}
				if _, err := os.Stat(want); err != nil {
					t.Errorf("Downloaded document does not exist: %s", want)
				}
			}
		})
	}
}

func TestHuggingFaceSource_BearerToken(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/api/") {
			fmt.Fprint(w, `{"siblings": [{"rfilename": "estimator.json"}]}`)
			return
		}
		fmt.Fprint(w, `{"kind": "linear-regression"}`)
	}))
	defer server.Close()

	h := NewHuggingFaceSource(
		WithAPIURL(server.URL+"/api/models/"),
		WithCDNURL(server.URL),
		WithToken("secret"),
		WithHTTPClient(server.Client()),
	)
	if _, err := h.DownloadModel(context.Background(), "org/model", t.TempDir()); err != nil {
		t.Fatalf("DownloadModel failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(seen))
	}
	for _, auth := range seen {
		if auth != "Bearer secret" {
			t.Errorf("Authorization header = %q, want %q", auth, "Bearer secret")
		}
	}
}

func TestHuggingFaceSource_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"siblings": []}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := NewHuggingFaceSource(WithAPIURL(server.URL + "/"))
	if _, err := h.DownloadModel(ctx, "org/model", t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
