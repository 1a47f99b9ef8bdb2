package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/zskl/pkg/serializer"
)

const linearDoc = `
kind: linear-regression
params:
  coef: [1.5, -2, 0.25]
  intercept: 0.5
`

const votingDoc = `
kind: voting-classifier
params:
  classes: [3, 7]
  voting: soft
estimators:
  - weight: 2
    estimator:
      kind: decision-tree-classifier
      params:
        children_left: [1, -1, -1]
        children_right: [2, -1, -1]
        feature: [1, -2, -2]
        threshold: [0.25, -2, -2]
        value: [[3, 3], [3, 1], [0, 2]]
        classes: [3, 7]
  - weight: 1
    estimator:
      kind: logistic-regression
      params:
        coef: [[0.5, -1]]
        intercept: [0.1]
        classes: [3, 7]
`

const mysteryDoc = `
kind: mystery-regressor
params:
  n_features: 2
`

func writeDoc(t *testing.T, dir, name, doc string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

// run executes the CLI in-process with its log written under a temp dir.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ZSKL_LOG_FILE", filepath.Join(t.TempDir(), "zskl.log"))
	var buf bytes.Buffer
	a := &app{}
	cmd := newRootCmd(a)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := execute(a, cmd)
	assert.Nil(t, a.logFile, "log file left open")
	return buf.String(), err
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	linear := writeDoc(t, dir, "linear.yaml", linearDoc)
	voting := writeDoc(t, dir, "voting.yml", votingDoc)

	out, err := run(t, "convert", "--output-dir", outDir, "--opset", "13", linear, voting)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Successfully converted and saved model to: "+filepath.Join(outDir, "linear.zmf"))
	assert.Contains(t, out, filepath.Join(outDir, "voting.zmf"))

	model, err := serializer.ReadFile(filepath.Join(outDir, "linear.zmf"))
	require.NoError(t, err)
	assert.Equal(t, int64(13), model.GetMetadata().GetOpsetVersion())
	assert.Equal(t, []int64{-1, 3}, model.GetGraph().GetInputs()[0].GetShape())

	model, err = serializer.ReadFile(filepath.Join(outDir, "voting.zmf"))
	require.NoError(t, err)
	var names []string
	for _, o := range model.GetGraph().GetOutputs() {
		names = append(names, o.GetName())
	}
	assert.Equal(t, []string{"label", "probabilities"}, names)
}

func TestConvertCommandDefaultsNextToInput(t *testing.T) {
	dir := t.TempDir()
	linear := writeDoc(t, dir, "model.json", `{"kind": "linear-regression", "params": {"coef": [1, 2]}}`)

	out, err := run(t, "convert", linear)
	require.NoError(t, err, out)
	model, err := serializer.ReadFile(filepath.Join(dir, "model.zmf"))
	require.NoError(t, err)
	assert.Equal(t, int64(15), model.GetMetadata().GetOpsetVersion())
}

func TestConvertCommandErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeDoc(t, dir, "good.yaml", linearDoc)
	mystery := writeDoc(t, dir, "mystery.yaml", mysteryDoc)

	out, err := run(t, "convert", "--output-dir", dir, good, mystery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery.yaml")
	assert.Contains(t, err.Error(), "mystery-regressor")
	assert.Contains(t, out, filepath.Join(dir, "good.zmf"))
	_, statErr := os.Stat(filepath.Join(dir, "mystery.zmf"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = run(t, "convert")
	assert.Error(t, err)

	_, err = run(t, "convert", filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to open estimator file")
}

func TestConvertCommandOutputCollision(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "b"), 0o755))
	first := writeDoc(t, dir, "a/model.yaml", linearDoc)
	second := writeDoc(t, dir, "b/model.json", `{"kind": "linear-regression", "params": {"coef": [1, 2]}}`)
	outDir := filepath.Join(dir, "out")

	_, err := run(t, "convert", "--output-dir", outDir, first, second)
	require.Error(t, err)
	assert.ErrorContains(t, err, "both write "+filepath.Join(outDir, "model.zmf"))
	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr), "nothing is written on a collision")

	// Next to each input the names do not collide.
	out, err := run(t, "convert", first, second)
	require.NoError(t, err, out)
	assert.FileExists(t, filepath.Join(dir, "a", "model.zmf"))
	assert.FileExists(t, filepath.Join(dir, "b", "model.zmf"))
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()
	linear := writeDoc(t, dir, "linear.yaml", linearDoc)
	_, err := run(t, "convert", linear)
	require.NoError(t, err)

	out, err := run(t, "inspect", filepath.Join(dir, "linear.zmf"))
	require.NoError(t, err)
	assert.Contains(t, out, "Producer: zskl")
	assert.Contains(t, out, "Opset version: 15")
	assert.Contains(t, out, "MatMul")

	_, err = run(t, "inspect", filepath.Join(dir, "missing.zmf"))
	assert.ErrorContains(t, err, "failed to load ZMF model")
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name, doc, want string
	}{
		{"regressor", linearDoc, "Verified linear-regression on 250 rows"},
		{"classifier", votingDoc, "Verified voting-classifier on 250 rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDoc(t, dir, tt.name+".yaml", tt.doc)
			out, err := run(t, "verify", "--rows", "250", "--seed", "7", path)
			require.NoError(t, err, out)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestVerifyCommandErrors(t *testing.T) {
	dir := t.TempDir()
	linear := writeDoc(t, dir, "linear.yaml", linearDoc)
	mystery := writeDoc(t, dir, "mystery.yaml", mysteryDoc)

	_, err := run(t, "verify", "--rows", "0", linear)
	assert.ErrorContains(t, err, "--rows must be positive")

	_, err = run(t, "verify", mystery)
	assert.ErrorContains(t, err, "mystery-regressor")
}

func TestDownloadCommand(t *testing.T) {
	tests := []struct {
		name          string
		flagKey       string
		envKey        string
		wantAuth      string
		expectedError string
	}{
		{name: "public", wantAuth: ""},
		{name: "flag key", flagKey: "flag-key", wantAuth: "Bearer flag-key"},
		{name: "env key", envKey: "env-key", wantAuth: "Bearer env-key"},
		{name: "flag wins", flagKey: "flag-key", envKey: "env-key", wantAuth: "Bearer flag-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				mu   sync.Mutex
				seen []string
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				seen = append(seen, r.Header.Get("Authorization"))
				mu.Unlock()
				switch {
				case strings.HasPrefix(r.URL.Path, "/api/models/"):
					fmt.Fprint(w, `{"siblings": [{"rfilename": "estimator.yaml"}, {"rfilename": "model.onnx"}]}`)
				case strings.HasSuffix(r.URL.Path, "/resolve/main/estimator.yaml"):
					fmt.Fprint(w, linearDoc)
				default:
					http.Error(w, "Not Found", http.StatusNotFound)
				}
			}))
			defer server.Close()

			t.Setenv("HUGGINGFACE_API_URL", server.URL+"/api/models/")
			t.Setenv("HUGGINGFACE_CDN_URL", server.URL)
			t.Setenv("HF_API_KEY", tt.envKey)

			outDir := t.TempDir()
			args := []string{"download", "--model", "org/estimator", "--output", outDir}
			if tt.flagKey != "" {
				args = append(args, "--api-key", tt.flagKey)
			}
			out, err := run(t, args...)
			require.NoError(t, err, out)
			assert.Contains(t, out, filepath.Join(outDir, "estimator.yaml"))
			mu.Lock()
			defer mu.Unlock()
			for _, auth := range seen {
				assert.Equal(t, tt.wantAuth, auth)
			}

			_, err = run(t, "convert", filepath.Join(outDir, "estimator.yaml"))
			assert.NoError(t, err)
		})
	}
}

func TestDownloadCommandRequiresModel(t *testing.T) {
	_, err := run(t, "download")
	assert.ErrorContains(t, err, "--model flag is required")
}
