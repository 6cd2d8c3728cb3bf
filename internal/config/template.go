package config

import (
	"encoding/json"
	"strings"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// 使用 reddit 客户端与文件系统 Sink，Options 列出全部键。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Postgres.Schema = "public"
	cfg.Options.Client = json.RawMessage(`{
  "auth_url": "",
  "api_url": "",
  "timeout_seconds": 30
}`)
	cfg.Options.Sink = json.RawMessage(`{
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}

// DotEnvTemplate 返回 .env 模板内容（凭据与常用覆盖项，值留空）。
func DotEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# submeta .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON；已存在的环境变量不会被覆盖。\n\n")

	b.WriteString("# Reddit 凭据\n")
	for _, k := range []string{"CLIENT_ID", "CLIENT_SECRET", "REDDIT_USERNAME", "REDDIT_PASSWORD"} {
		b.WriteString(k + "=\n")
	}
	b.WriteString("\n# 配置来源（可二选一）\n")
	b.WriteString(EnvPrefix + "CONFIG_FILE=\n")
	b.WriteString(EnvPrefix + "CONFIG_JSON=\n")

	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{"INPUT", "OUTPUT", "SKIP", "MAX", "SPLIT", "RETRIES", "BACKOFF", "RPM", "COMPRESS", "CLIENT", "SINK", "USER_AGENT", "LOG_LEVEL"} {
		b.WriteString(EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# MinIO Sink\n")
	for _, k := range []string{"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_SECURE"} {
		b.WriteString(k + "=\n")
	}
	b.WriteString("\n# Postgres 结果镜像\n")
	b.WriteString("PG_DSN=\n")
	b.WriteString("PG_SCHEMA=\n")
	return b.String()
}
