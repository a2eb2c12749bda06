package qq

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
)

var (
	signPart1    = []int{23, 14, 6, 36, 16, 7, 19}
	signPart2    = []int{16, 1, 32, 12, 19, 27, 8, 5}
	signScramble = []byte{89, 39, 179, 150, 218, 82, 58, 252, 177, 52, 186, 123, 120, 64, 242, 133, 143, 161, 121, 179}
)

// sign 计算 musics.fcg 接口需要的 zzc 签名
func sign(payload string) string {
	sum := sha1.Sum([]byte(payload))
	h := strings.ToUpper(hex.EncodeToString(sum[:]))

	var sb strings.Builder
	sb.WriteString("zzc")
	for _, i := range signPart1 {
		sb.WriteByte(h[i])
	}
	mixed := make([]byte, len(signScramble))
	for i, v := range signScramble {
		b, _ := strconv.ParseUint(h[i*2:i*2+2], 16, 8)
		mixed[i] = v ^ byte(b)
	}
	sb.WriteString(strings.NewReplacer("\\", "", "/", "", "+", "", "=", "").Replace(base64.StdEncoding.EncodeToString(mixed)))
	for _, i := range signPart2 {
		sb.WriteByte(h[i])
	}
	return strings.ToLower(sb.String())
}
