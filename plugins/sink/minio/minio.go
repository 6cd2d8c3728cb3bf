// Package minio 将批文件写入 MinIO / S3 兼容对象存储。
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"submeta/pkg/contract"
)

// Options 连接与桶配置；空字段回落到 MINIO_* 环境变量。
type Options struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Secure    *bool  `json:"secure,omitempty"`
	Region    string `json:"region"`
	// Prefix: 所有对象键的公共前缀（例如 "runs/2024/"）。
	Prefix string `json:"prefix"`
	// CreateBucket: 桶不存在时自动创建。
	CreateBucket bool `json:"create_bucket"`
}

// resolve 以环境变量补齐未设置的字段。
func (o Options) resolve(lookup func(string) (string, bool)) (Options, error) {
	env := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}
	if o.Endpoint == "" {
		o.Endpoint = env("MINIO_ENDPOINT")
	}
	if o.AccessKey == "" {
		o.AccessKey = env("MINIO_ACCESS_KEY")
	}
	if o.SecretKey == "" {
		o.SecretKey = env("MINIO_SECRET_KEY")
	}
	if o.Bucket == "" {
		o.Bucket = env("MINIO_BUCKET")
	}
	if o.Secure == nil {
		if s := env("MINIO_SECURE"); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return o, fmt.Errorf("%w: MINIO_SECURE=%q", contract.ErrInvalidInput, s)
			}
			o.Secure = &b
		}
	}
	if o.Endpoint == "" || o.Bucket == "" {
		return o, fmt.Errorf("%w: minio endpoint and bucket are required", contract.ErrInvalidInput)
	}
	return o, nil
}

// Store 实现 contract.Sink。
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ contract.Sink = (*Store)(nil)

// New 按 Options 建立客户端；root 为输出前缀中的目录部分，拼入对象键。
func New(ctx context.Context, opts *Options, root string) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	o, err := opts.resolve(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	secure := true
	if o.Secure != nil {
		secure = *o.Secure
	}
	client, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: secure,
		Region: o.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if o.CreateBucket {
		exists, err := client.BucketExists(ctx, o.Bucket)
		if err != nil {
			return nil, fmt.Errorf("bucket exists: %w", err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, o.Bucket, minio.MakeBucketOptions{Region: o.Region}); err != nil {
				return nil, fmt.Errorf("make bucket: %w", err)
			}
		}
	}
	return NewStore(client, o.Bucket, joinPrefix(o.Prefix, root)), nil
}

// NewStore 以现成客户端构造。
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// joinPrefix 规范化对象键前缀："" 或以 "/" 结尾。
func joinPrefix(parts ...string) string {
	var keep []string
	for _, p := range parts {
		p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
		if p == "" || p == "." {
			continue
		}
		keep = append(keep, p)
	}
	if len(keep) == 0 {
		return ""
	}
	return path.Clean(strings.Join(keep, "/")) + "/"
}

func (s *Store) key(id contract.ArtifactID) (string, error) {
	name := strings.ReplaceAll(string(id), "\\", "/")
	clean := path.Clean(name)
	if clean == "." || clean == "" || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", contract.ErrPathInvalid
	}
	return s.prefix + clean, nil
}

func notFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Exists 通过 StatObject 判断对象是否存在。
func (s *Store) Exists(ctx context.Context, id contract.ArtifactID) (bool, error) {
	key, err := s.key(id)
	if err != nil {
		return false, err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Write 整体上传对象；PutObject 对读者可见即为完整对象。
func (s *Store) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	key, err := s.key(id)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	return err
}

// Open 读取对象；不存在时返回包装 fs.ErrNotExist 的错误。
func (s *Store) Open(ctx context.Context, id contract.ArtifactID) (io.ReadCloser, error) {
	key, err := s.key(id)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", s.bucket, key, fs.ErrNotExist)
		}
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// List 返回前缀下一层的对象名（不含子“目录”），按名称升序。
func (s *Store) List(ctx context.Context) ([]contract.ArtifactID, error) {
	var out []contract.ArtifactID
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix}) {
		if obj.Err != nil {
			if errors.Is(obj.Err, context.Canceled) {
				return nil, obj.Err
			}
			return nil, fmt.Errorf("list %s/%s: %w", s.bucket, s.prefix, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		out = append(out, contract.ArtifactID(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func contentType(key string) string {
	k := strings.ToLower(key)
	switch {
	case strings.HasSuffix(k, contract.ExtZstd):
		return "application/zstd"
	case strings.HasSuffix(k, contract.ExtCSV):
		return "text/csv"
	case strings.HasSuffix(k, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
