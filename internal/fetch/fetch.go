// 包 fetch：源数据下载（HTTP/HTTPS 与 S3）与解压
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	ErrBadStatus = errors.New("unexpected download status")
	ErrScheme    = errors.New("unsupported source scheme")
)

// S3Getter：s3.Client 的最小子集，测试中可替换
type S3Getter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher：下载器；HTTP 走带重试的客户端，s3:// 走 AWS SDK
type Fetcher struct {
	HTTP *retryablehttp.Client
	S3   S3Getter
}

// New：默认 4 次重试、指数退避，重试日志接入 slog
func New() *Fetcher {
	c := retryablehttp.NewClient()
	c.RetryMax = 4
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 10 * time.Second
	c.Logger = logger.L()
	return &Fetcher{HTTP: c}
}

// Download：把 src 下载到 dest
// 约束：dest 已存在时直接返回（视为已完成的准备工作）；先写临时文件再改名，
// 中途失败不会留下半个文件
func (f *Fetcher) Download(ctx context.Context, src, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		logger.L().Debug("download_skip_existing", "dest", dest)
		return nil
	}
	u, err := url.Parse(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	logger.L().Info("download_start", "src", src, "dest", dest)
	t0 := time.Now()
	var n int64
	switch u.Scheme {
	case "http", "https":
		n, err = f.httpCopy(ctx, src, out)
	case "s3":
		n, err = f.s3Copy(ctx, u.Host, strings.TrimPrefix(u.Path, "/"), out)
	default:
		err = fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("download %s: %w", src, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return err
	}
	metrics.DownloadsTotal.WithLabelValues(u.Scheme).Inc()
	logger.L().Info("download_done", "src", src, "bytes", n, "duration_ms", time.Since(t0).Milliseconds())
	return nil
}

func (f *Fetcher) httpCopy(ctx context.Context, src string, w io.Writer) (int64, error) {
	client := f.HTTP
	if client == nil {
		client = New().HTTP
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return io.Copy(w, resp.Body)
}

func (f *Fetcher) s3Copy(ctx context.Context, bucket, key string, w io.Writer) (int64, error) {
	if f.S3 == nil {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return 0, fmt.Errorf("load aws config: %w", err)
		}
		f.S3 = s3.NewFromConfig(cfg)
	}
	obj, err := f.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return 0, err
	}
	defer obj.Body.Close()
	return io.Copy(w, obj.Body)
}
