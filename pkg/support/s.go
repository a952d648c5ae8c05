package support

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"math/rand"
)

func RandHex(len int) string {
	b := make([]byte, len)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// 随机公网ip,用于X-Forwarded-For
func GenerateRandIp() string {
	return fmt.Sprintf("%d.%d.%d.%d", 1+rand.Intn(126), rand.Intn(256), rand.Intn(256), 1+rand.Intn(254))
}
