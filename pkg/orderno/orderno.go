package orderno

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"strings"
	"time"
)

// MaxLength 订单号最大长度（数据库字段约束）
const MaxLength = 30

// Generate 生成订单号：{prefix}{base36 毫秒时间戳}{base36 随机数}
// 时间戳部分保证大体有序，随机部分防止同一毫秒内碰撞。
// 碰撞并非绝对不可能，调用方写库时仍需处理唯一约束冲突并重试。
func Generate(prefix string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)

	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand 不可用时退化为纳秒时钟
		binary.BigEndian.PutUint32(buf[:], uint32(time.Now().UnixNano()))
	}
	suffix := strconv.FormatUint(uint64(binary.BigEndian.Uint32(buf[:])), 36)

	no := prefix + strings.ToUpper(ts) + strings.ToUpper(suffix)
	if len(no) > MaxLength {
		no = no[:MaxLength]
	}
	return no
}
