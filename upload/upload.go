/*
Package upload stores entry images and returns the URL to record on the
entry.

BACKENDS:
  Local: files under a directory, served by the API at /uploads/*
  OSS:   objects in an Alibaba Cloud bucket, served by the bucket or CDN

Object names are fresh UUIDs with the original extension, so a client
cannot overwrite another upload by reusing a filename.
*/
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"
	"github.com/google/uuid"
)

// MaxSize caps an uploaded image.
const MaxSize = 10 << 20

// ErrTooLarge is returned when the body exceeds MaxSize.
var ErrTooLarge = errors.New("upload exceeds maximum size")

// Uploader saves an image and returns its public URL.
type Uploader interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
}

// objectName keeps the extension of filename and nothing else of it.
func objectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 10 {
		ext = ""
	}
	return uuid.NewString() + ext
}

// =============================================================================
// LOCAL DISK
// =============================================================================

// Local writes uploads into Dir.
type Local struct {
	Dir       string
	URLPrefix string
}

// NewLocal creates dir if needed.
func NewLocal(dir, urlPrefix string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = "/uploads"
	}
	return &Local{Dir: dir, URLPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

func (l *Local) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := objectName(filename)
	dst := filepath.Join(l.Dir, name)

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	n, err := io.Copy(f, io.LimitReader(r, MaxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxSize {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return l.URLPrefix + "/" + name, nil
}

// =============================================================================
// ALIBABA CLOUD OSS
// =============================================================================

// OSSConfig selects the bucket. Credentials are read from
// OSS_ACCESS_KEY_ID and OSS_ACCESS_KEY_SECRET.
type OSSConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	PublicBaseURL string
	KeyPrefix     string
}

// OSS puts uploads into a bucket.
type OSS struct {
	client *oss.Client
	cfg    OSSConfig
}

// NewOSS builds a client. No request is made until the first Save.
func NewOSS(cfg OSSConfig) (*OSS, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, errors.New("oss: bucket and region are required")
	}
	ossCfg := oss.LoadDefaultConfig().
		WithCredentialsProvider(credentials.NewEnvironmentVariableCredentialsProvider()).
		WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		ossCfg = ossCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("https://%s.oss-%s.aliyuncs.com", cfg.Bucket, cfg.Region)
	}
	return &OSS{client: oss.NewClient(ossCfg), cfg: cfg}, nil
}

// Save buffers the body so an oversized upload is refused before any
// request reaches the bucket.
func (o *OSS) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(body) > MaxSize {
		return "", ErrTooLarge
	}

	key := o.key(filename, time.Now())
	if _, err := o.client.PutObject(ctx, &oss.PutObjectRequest{
		Bucket: oss.Ptr(o.cfg.Bucket),
		Key:    oss.Ptr(key),
		Body:   bytes.NewReader(body),
	}); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return strings.TrimSuffix(o.cfg.PublicBaseURL, "/") + "/" + key, nil
}

// key is <prefix>/YYYY/MM/DD/<uuid><ext>.
func (o *OSS) key(filename string, now time.Time) string {
	prefix := strings.Trim(o.cfg.KeyPrefix, "/")
	if prefix == "" {
		prefix = "points"
	}
	return path.Join(prefix, now.UTC().Format("2006/01/02"), objectName(filename))
}
