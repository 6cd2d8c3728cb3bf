package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"submeta/pkg/contract"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o)
	if !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("未知字段应报 ErrInvalidInput: %v", err)
	}
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	t.Run("reader", func(t *testing.T) {
		if _, err := Reader["fs"](json.RawMessage(`{"buf_size":4096}`)); err != nil {
			t.Fatalf("reader: %v", err)
		}
		if _, err := Reader["fs"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("reader 未对未知字段报错")
		}
	})
	t.Run("mock", func(t *testing.T) {
		c, err := Lookup["mock"](json.RawMessage(`{"unavailable":["gone"]}`), contract.Credentials{Username: "bot"})
		if err != nil {
			t.Fatalf("mock: %v", err)
		}
		if me, _ := c.Authenticate(context.Background()); me != "bot" {
			t.Fatalf("identity=%q", me)
		}
		if _, err := c.Lookup(context.Background(), "gone"); !errors.Is(err, contract.ErrNotFound) {
			t.Fatalf("want not found: %v", err)
		}
		if _, err := Lookup["mock"](json.RawMessage(`{"prefix":"x"}`), contract.Credentials{}); err == nil {
			t.Fatalf("mock 未对未知字段报错")
		}
	})
	t.Run("reddit", func(t *testing.T) {
		creds := contract.Credentials{ClientID: "id", ClientSecret: "s", Username: "u", Password: "p"}
		if _, err := Lookup["reddit"](json.RawMessage(`{"timeout_seconds":5}`), creds); err != nil {
			t.Fatalf("reddit: %v", err)
		}
		_, err := Lookup["reddit"](nil, contract.Credentials{})
		if !errors.Is(err, contract.ErrAuth) {
			t.Fatalf("缺失凭据应报 ErrAuth: %v", err)
		}
	})
	t.Run("sink fs", func(t *testing.T) {
		dir := t.TempDir()
		s, err := Sink["fs"](json.RawMessage(`{"atomic":true}`), dir)
		if err != nil {
			t.Fatalf("sink: %v", err)
		}
		ok, err := s.Exists(context.Background(), "x.csv")
		if err != nil || ok {
			t.Fatalf("exists=%v err=%v", ok, err)
		}
		if _, err := Sink["fs"](json.RawMessage(`{"bogus":1}`), dir); err == nil {
			t.Fatalf("sink 未对未知字段报错")
		}
	})
	t.Run("sink minio", func(t *testing.T) {
		t.Setenv("MINIO_ENDPOINT", "")
		t.Setenv("MINIO_BUCKET", "")
		_, err := Sink["minio"](json.RawMessage(`{}`), "parts")
		if !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("缺失 endpoint 应报 ErrInvalidInput: %v", err)
		}
	})
}
