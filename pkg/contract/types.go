package contract

// InputRow: 输入表中的一行（只读）。
// Index 为该行在原始输入表中的 0 基位置，跳过（skip）后仍保持不变。
type InputRow struct {
	Index int
	Name  string
}

// About: 远端 subreddit "about" 查询的最小必要字段。
type About struct {
	NSFW        bool
	Name        string // 规范名（fullname，如 t5_2qh1i）
	Subscribers int64
}

// LookupResult: 每个 InputRow 恰好产生一条结果，创建后不再修改。
// 约束：
// - Available=false 时 NSFW/CanonicalName/Subscribers 均为 nil；
// - Available=true 时三者均非 nil。
type LookupResult struct {
	Name          string
	NSFW          *bool
	CanonicalName *string
	Subscribers   *int64
	Available     bool
}

// Found 由远端 About 构造可用结果。
func Found(name string, a About) LookupResult {
	nsfw := a.NSFW
	cn := a.Name
	subs := a.Subscribers
	return LookupResult{Name: name, NSFW: &nsfw, CanonicalName: &cn, Subscribers: &subs, Available: true}
}

// Unavailable 构造不可用结果（不存在/被封禁/私有）。
func Unavailable(name string) LookupResult {
	return LookupResult{Name: name}
}

// Credentials: 远端客户端的身份凭据；启动时构造一次，显式传递。
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
}

// Redacted 返回可用于日志的凭据摘要（不含密钥与密码）。
func (c Credentials) Redacted() map[string]string {
	return map[string]string{
		"client_id":  c.ClientID,
		"username":   c.Username,
		"user_agent": c.UserAgent,
	}
}
