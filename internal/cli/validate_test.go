package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeYAML(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidatePipelineOK(t *testing.T) {
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: order-service
  env:
    REGION: us-east-1
  stages:
    - name: build
      run:
        - make build
    - name: test
      run:
        - make test
  post:
    always:
      - echo done
`)

	out, err := executeCommand("validate", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, `valid pipeline "order-service"`) {
		t.Errorf("output = %q, want valid pipeline message", out)
	}
	if !strings.Contains(out, "(2 stages)") {
		t.Errorf("output = %q, want stage count", out)
	}
}

func TestValidatePipelineFindings(t *testing.T) {
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: order-service
  stages:
    - name: build
      run:
        - make build
    - name: build
      run:
        - make again
    - name: empty
`)

	out, err := executeCommand("validate", path)
	if err == nil {
		t.Fatal("expected error for invalid pipeline, got nil")
	}
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d", code, exitConfig)
	}
	if !strings.Contains(out, `duplicate stage name "build"`) {
		t.Errorf("output missing duplicate-name finding: %s", out)
	}
	if !strings.Contains(out, "pipeline.stages[2].run") {
		t.Errorf("output missing empty-run finding: %s", out)
	}
}

func TestValidateDeploymentOK(t *testing.T) {
	path := writeYAML(t, "deploy.yaml", `
deployment:
  name: order-api
  image: registry.example.com/shop/order-api:1.2.3
  replicas: 2
  ports:
    - name: http
      port: 8080
  resources:
    requests:
      cpu: 250m
      memory: 128Mi
    limits:
      cpu: "1"
      memory: 512Mi
`)

	out, err := executeCommand("validate", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, `valid deployment "order-api"`) {
		t.Errorf("output = %q, want valid deployment message", out)
	}
}

func TestValidateDeploymentFindings(t *testing.T) {
	path := writeYAML(t, "deploy.yaml", `
deployment:
  name: Order_API
  image: order-api
  ports:
    - port: 70000
`)

	out, err := executeCommand("validate", path)
	if err == nil {
		t.Fatal("expected error for invalid descriptor, got nil")
	}
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d", code, exitConfig)
	}
	if !strings.Contains(out, "deployment.name") {
		t.Errorf("output missing name finding: %s", out)
	}
	if !strings.Contains(out, "port 70000 out of range") {
		t.Errorf("output missing port finding: %s", out)
	}
}

func TestValidateUnknownKind(t *testing.T) {
	path := writeYAML(t, "other.yaml", "service:\n  name: thing\n")

	_, err := executeCommand("validate", path)
	if err == nil {
		t.Fatal("expected error for unknown document kind, got nil")
	}
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d", code, exitConfig)
	}
	if !strings.Contains(err.Error(), "unknown document kind") {
		t.Errorf("error = %v, want unknown document kind", err)
	}
}

func TestValidateMissingFile(t *testing.T) {
	_, err := executeCommand("validate", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d", code, exitConfig)
	}
}
