package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"submeta/pkg/contract"
	lmock "submeta/plugins/lookup/mock"
	"submeta/plugins/lookup/reddit"
	rfs "submeta/plugins/reader/filesystem"
	sfs "submeta/plugins/sink/filesystem"
	sminio "submeta/plugins/sink/minio"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: options: %v", contract.ErrInvalidInput, err)
	}
	return nil
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.RowReader, error)

// NewLookup 工厂签名：原样 JSON Options + 启动时构造的凭据。
type NewLookup func(raw json.RawMessage, creds contract.Credentials) (contract.LookupClient, error)

// NewSink 工厂签名：原样 JSON Options + 根（目录或对象前缀）。
type NewSink func(raw json.RawMessage, root string) (contract.Sink, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.RowReader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Lookup 工厂注册表。
var Lookup = map[string]NewLookup{
	// reddit: OAuth2 password grant + /r/{name}/about
	"reddit": func(raw json.RawMessage, creds contract.Credentials) (contract.LookupClient, error) {
		var opts reddit.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		v, err := reddit.New(&opts, creds)
		if err != nil {
			return nil, err
		}
		return v, nil
	},
	// mock: 离线确定性客户端
	"mock": func(raw json.RawMessage, creds contract.Credentials) (contract.LookupClient, error) {
		var opts lmock.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		v, err := lmock.New(&opts, creds)
		if err != nil {
			return nil, err
		}
		return v, nil
	},
}

// Sink 工厂注册表。
var Sink = map[string]NewSink{
	// fs: 文件系统 Sink（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage, root string) (contract.Sink, error) {
		var opts sfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		v, err := sfs.New(root, &opts)
		if err != nil {
			return nil, err
		}
		return v, nil
	},
	// minio: S3 兼容对象存储；root 作为对象前缀
	"minio": func(raw json.RawMessage, root string) (contract.Sink, error) {
		var opts sminio.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		v, err := sminio.New(context.Background(), &opts, root)
		if err != nil {
			return nil, err
		}
		return v, nil
	},
}
