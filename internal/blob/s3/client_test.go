package s3blob

import (
	"context"
	"strings"
	"testing"
)

func TestNewRejectsIncompleteConfig(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{Region: "us-east-1"}); err == nil || !strings.Contains(err.Error(), "bucket") {
		t.Errorf("New without bucket err = %v, want bucket error", err)
	}
	if _, err := New(ctx, Config{Bucket: "archive"}); err == nil || !strings.Contains(err.Error(), "region") {
		t.Errorf("New without region err = %v, want region error", err)
	}
}

func TestWithScheme(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"localhost:9000", true, "https://localhost:9000"},
		{"http://minio:9000", true, "http://minio:9000"},
		{"https://r2.example.com", false, "https://r2.example.com"},
	}

	for _, tt := range tests {
		if got := withScheme(tt.endpoint, tt.useSSL); got != tt.want {
			t.Errorf("withScheme(%q, %v) = %q, want %q", tt.endpoint, tt.useSSL, got, tt.want)
		}
	}
}
