package renderer

import (
	"errors"
	"testing"
)

func TestRenderFailureWrapping(t *testing.T) {
	inner := errors.New("codec exploded")
	var err error = &RenderFailure{Err: inner}

	var rf *RenderFailure
	if !errors.As(err, &rf) {
		t.Fatal("errors.As failed to match RenderFailure")
	}
	if !errors.Is(err, inner) {
		t.Error("RenderFailure should unwrap to the inner error")
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"images/proj/7_0.jpg", "images_proj_7_0.jpg"},
		{"plain.png", "plain.png"},
		{"weird name!.jpg", "weird_name_.jpg"},
	}

	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutputConstants(t *testing.T) {
	// The render contract is fixed-resolution, fixed-frame-rate output.
	if OutputWidth != 1920 || OutputHeight != 1080 {
		t.Errorf("unexpected output resolution %dx%d", OutputWidth, OutputHeight)
	}
	if OutputFPS != 24 {
		t.Errorf("unexpected output fps %d", OutputFPS)
	}
}
