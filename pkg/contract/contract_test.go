package contract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// UT-CON-01: 批文件命名与区间解析互逆。
func TestBatchArtifactRoundTrip(t *testing.T) {
	id := BatchArtifact("subreddits-meta", 1000, 2000, false)
	assert.Equal(t, ArtifactID("subreddits-meta-1000-2000.csv"), id)
	s, e, ok := ParseBatchRange(id)
	require.True(t, ok)
	assert.Equal(t, 1000, s)
	assert.Equal(t, 2000, e)

	zid := BatchArtifact("out", 0, 7, true)
	assert.Equal(t, ArtifactID("out-0-7.csv.zst"), zid)
	s, e, ok = ParseBatchRange(zid)
	require.True(t, ok)
	assert.Equal(t, 0, s)
	assert.Equal(t, 7, e)
}

func TestParseBatchRangeRejects(t *testing.T) {
	cases := []ArtifactID{
		"merged.csv",
		"x-1.csv",
		"x-a-b.csv",
		"x-5-3.csv",
		"x-0-3.json",
		"subreddits-meta.manifest.json",
	}
	for _, c := range cases {
		_, _, ok := ParseBatchRange(c)
		assert.False(t, ok, "应拒绝 %s", c)
	}
	s, e, ok := ParseBatchRange("dir/sub/p-2-4.CSV")
	require.True(t, ok)
	assert.Equal(t, []int{2, 4}, []int{s, e})
}

func TestIsTable(t *testing.T) {
	assert.True(t, IsTable("a.csv"))
	assert.True(t, IsTable("a.csv.zst"))
	assert.False(t, IsTable("a.manifest.json"))
}

// UT-CON-02: 可用性不变量。
func TestValidateResult(t *testing.T) {
	ok := Found("golang", About{NSFW: false, Name: "t5_2rc7j", Subscribers: 250000})
	require.NoError(t, ValidateResult(ok))
	require.NoError(t, ValidateResult(Unavailable("gone")))

	bad := Unavailable("x")
	n := int64(1)
	bad.Subscribers = &n
	err := ValidateResult(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	half := LookupResult{Name: "y", Available: true}
	assert.ErrorIs(t, ValidateResult(half), ErrInvariantViolation)

	assert.ErrorIs(t, ValidateResult(LookupResult{}), ErrInvariantViolation)
}

func TestCredentialsRedacted(t *testing.T) {
	c := Credentials{ClientID: "id", ClientSecret: "s3cret", Username: "u", Password: "p"}
	kv := c.Redacted()
	for _, v := range kv {
		assert.NotEqual(t, "s3cret", v)
		assert.NotEqual(t, "p", v)
	}
	assert.Equal(t, "id", kv["client_id"])
}
