package cache

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// Key 是标识符的十六进制摘要，同时作为磁盘上的条目文件名。
type Key string

// String 返回 Key 的原始字符串。
func (k Key) String() string {
	return string(k)
}

const (
	KeyAlgoMD5    = "md5"
	KeyAlgoSHA256 = "sha256"
	KeyAlgoBLAKE3 = "blake3"
)

// DefaultKeyAlgorithm 与历史缓存目录的命名保持一致。
const DefaultKeyAlgorithm = KeyAlgoMD5

// KeyDeriver 将任意标识符映射为固定长度、文件系统安全的 Key。
// 不引入任何进程级 salt，保证重启后同一标识符得到相同文件名。
type KeyDeriver struct {
	algo string
}

// NewKeyDeriver 根据算法名构造 KeyDeriver，空字符串使用 md5。
func NewKeyDeriver(algo string) (KeyDeriver, error) {
	normalized := strings.ToLower(strings.TrimSpace(algo))
	if normalized == "" {
		normalized = DefaultKeyAlgorithm
	}
	switch normalized {
	case KeyAlgoMD5, KeyAlgoSHA256, KeyAlgoBLAKE3:
		return KeyDeriver{algo: normalized}, nil
	default:
		return KeyDeriver{}, fmt.Errorf("unsupported key algorithm: %s", algo)
	}
}

// Algorithm 返回当前使用的摘要算法。
func (d KeyDeriver) Algorithm() string {
	if d.algo == "" {
		return DefaultKeyAlgorithm
	}
	return d.algo
}

// Derive 计算 identifier 对应的 Key；任何字符串都是合法输入。
func (d KeyDeriver) Derive(identifier string) Key {
	data := []byte(identifier)
	switch d.Algorithm() {
	case KeyAlgoSHA256:
		sum := sha256.Sum256(data)
		return Key(hex.EncodeToString(sum[:]))
	case KeyAlgoBLAKE3:
		sum := blake3.Sum256(data)
		return Key(hex.EncodeToString(sum[:]))
	default:
		sum := md5.Sum(data)
		return Key(hex.EncodeToString(sum[:]))
	}
}

// validKey 只接受小写十六进制，长度覆盖 md5 到 512 位摘要。
func validKey(key Key) bool {
	if len(key) < 32 || len(key) > 128 {
		return false
	}
	for _, r := range key {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
