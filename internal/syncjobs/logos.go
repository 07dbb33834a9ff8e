package syncjobs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"cocowallet-sync/internal/config"
	"cocowallet-sync/internal/models"
	"cocowallet-sync/internal/runner"
)

const logoBatchLimit = 500

// LogoSource lists tokens whose logos should be mirrored.
type LogoSource interface {
	TokensWithLogos(ctx context.Context, limit int) ([]models.Token, error)
}

// Uploader stores a mirrored logo and returns its location.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// LogoMirror downloads token logos, normalizes them to square PNG
// thumbnails, and uploads them to S3 or local disk. The admin list view
// serves these instead of hotlinking upstream URIs.
type LogoMirror struct {
	cfg      config.Config
	source   LogoSource
	http     *http.Client
	uploader Uploader
	log      zerolog.Logger
}

// NewLogoMirror builds the logo mirror job, choosing S3 when a bucket is
// configured and local disk otherwise.
func NewLogoMirror(ctx context.Context, cfg config.Config, source LogoSource, log zerolog.Logger) (*LogoMirror, error) {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var uploader Uploader
	if cfg.LogoS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		uploader = &s3Uploader{client: client, bucket: cfg.LogoS3Bucket}
	} else {
		dir := cfg.LogoOutputDir
		if dir == "" {
			dir = "./logos"
		}
		uploader = &localUploader{baseDir: dir}
	}

	return &LogoMirror{
		cfg:      cfg,
		source:   source,
		http:     &http.Client{Timeout: timeout},
		uploader: uploader,
		log:      log,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.LogoS3Region),
	}
	if cfg.LogoS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.LogoS3Endpoint,
					HostnameImmutable: cfg.LogoS3PathStyle,
					SigningRegion:     cfg.LogoS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.LogoS3PathStyle
	}), nil
}

// Run implements runner.JobFunc. Individual logo failures are counted,
// not fatal.
func (m *LogoMirror) Run(ctx context.Context, report runner.ProgressFunc) error {
	tokens, err := m.source.TokensWithLogos(ctx, logoBatchLimit)
	if err != nil {
		return fmt.Errorf("list logo tokens: %w", err)
	}
	if len(tokens) == 0 {
		report(100, "no logos to mirror")
		return nil
	}
	report(5, fmt.Sprintf("mirroring %d logos", len(tokens)))

	mirrored, failed := 0, 0
	for i, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.mirrorOne(ctx, tok); err != nil {
			m.log.Warn().Str("address", tok.Address).Err(err).Msg("mirror logo")
			failed++
		} else {
			mirrored++
		}
		progress := 5 + (i+1)*95/len(tokens)
		report(progress, fmt.Sprintf("mirrored %d/%d logos (%d failed)", mirrored, len(tokens), failed))
	}

	report(100, fmt.Sprintf("mirrored %d/%d logos (%d failed)", mirrored, len(tokens), failed))
	return nil
}

func (m *LogoMirror) mirrorOne(ctx context.Context, tok models.Token) error {
	data, err := m.download(ctx, tok.LogoURI)
	if err != nil {
		return err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode logo: %w", err)
	}

	size := m.cfg.LogoSize
	if size <= 0 {
		size = 64
	}
	thumb := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, imaging.PNG); err != nil {
		return fmt.Errorf("encode logo: %w", err)
	}

	key := fmt.Sprintf("logos/%s/%s.png", strings.ToLower(tok.Chain), tok.Address)
	if _, err := m.uploader.Upload(ctx, key, buf.Bytes(), "image/png"); err != nil {
		return fmt.Errorf("upload logo: %w", err)
	}
	return nil
}

func (m *LogoMirror) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download logo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download logo: status %d", resp.StatusCode)
	}

	const limit = 5 * 1024 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read logo: %w", err)
	}
	if len(body) > limit {
		return nil, fmt.Errorf("logo too large (>%d bytes)", limit)
	}
	return body, nil
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, filepath.Clean(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
