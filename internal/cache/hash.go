package cache

import (
	"strconv"

	"github.com/minio/highwayhash"
)

// hashKey highwayhash需要32字节的密钥，这里只用于生成缓存键
var hashKey = []byte("doc-ingest:span-cache:0123456789")

// ContentHash 计算内容的64位哈希
func ContentHash(data []byte) (uint64, error) {
	h, err := highwayhash.New64(hashKey)
	if err != nil {
		return 0, err
	}
	if _, err = h.Write(data); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// ContentKey 返回内容哈希的十六进制表示
func ContentKey(content string) (string, error) {
	sum, err := ContentHash([]byte(content))
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(sum, 16), nil
}
