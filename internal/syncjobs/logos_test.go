package syncjobs

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cocowallet-sync/internal/config"
	"cocowallet-sync/internal/models"
)

type fakeLogoSource struct {
	tokens []models.Token
}

func (f *fakeLogoSource) TokensWithLogos(_ context.Context, _ int) ([]models.Token, error) {
	return f.tokens, nil
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestLogoMirrorWritesThumbnails(t *testing.T) {
	logo := testPNG(t, 200, 120)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(logo)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := config.Config{
		HTTPTimeout:   5 * time.Second,
		LogoOutputDir: dir,
		LogoSize:      64,
	}
	source := &fakeLogoSource{tokens: []models.Token{
		{Chain: "SOL", Address: "addr-ok", LogoURI: srv.URL + "/ok.png"},
		{Chain: "SOL", Address: "addr-missing", LogoURI: srv.URL + "/missing.png"},
	}}

	job, err := NewLogoMirror(context.Background(), cfg, source, zerolog.Nop())
	if err != nil {
		t.Fatalf("new logo mirror: %v", err)
	}

	var progress progressLog
	if err := job.Run(context.Background(), progress.report); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	path := filepath.Join(dir, "logos", "sol", "addr-ok.png")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read mirrored logo: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode mirrored logo: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("thumbnail is %dx%d, want 64x64", b.Dx(), b.Dy())
	}

	if _, err := os.Stat(filepath.Join(dir, "logos", "sol", "addr-missing.png")); !os.IsNotExist(err) {
		t.Error("failed download should not leave a file behind")
	}

	final := progress.entries[len(progress.entries)-1]
	if !strings.Contains(final, "1/2") || !strings.Contains(final, "(1 failed)") {
		t.Errorf("unexpected final message %q", final)
	}
	if progress.last != 100 {
		t.Errorf("expected final progress 100, got %d", progress.last)
	}
}

func TestLogoMirrorNothingToDo(t *testing.T) {
	cfg := config.Config{LogoOutputDir: t.TempDir(), LogoSize: 64}
	job, err := NewLogoMirror(context.Background(), cfg, &fakeLogoSource{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new logo mirror: %v", err)
	}

	var progress progressLog
	if err := job.Run(context.Background(), progress.report); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if progress.last != 100 {
		t.Errorf("expected final progress 100, got %d", progress.last)
	}
	if !strings.Contains(progress.entries[0], "no logos") {
		t.Errorf("unexpected message %q", progress.entries[0])
	}
}

func TestLogoMirrorRejectsNonImagePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	cfg := config.Config{HTTPTimeout: 5 * time.Second, LogoOutputDir: t.TempDir(), LogoSize: 64}
	source := &fakeLogoSource{tokens: []models.Token{
		{Chain: "SOL", Address: "addr-html", LogoURI: srv.URL + "/logo.png"},
	}}
	job, err := NewLogoMirror(context.Background(), cfg, source, zerolog.Nop())
	if err != nil {
		t.Fatalf("new logo mirror: %v", err)
	}

	var progress progressLog
	if err := job.Run(context.Background(), progress.report); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	final := progress.entries[len(progress.entries)-1]
	if !strings.Contains(final, "(1 failed)") {
		t.Errorf("decode failure should be counted, got %q", final)
	}
}
