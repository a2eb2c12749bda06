package track

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

// 长的写法必须排在前面，否则 "十一" 会先被替换成 "101"
var cjkNumerals = []struct {
	cn, digits string
}{
	{"十一", "11"}, {"十二", "12"}, {"十三", "13"}, {"十四", "14"}, {"十五", "15"},
	{"十六", "16"}, {"十七", "17"}, {"十八", "18"}, {"十九", "19"}, {"十", "10"},
	{"九", "9"}, {"八", "8"}, {"七", "7"}, {"六", "6"}, {"五", "5"},
	{"四", "4"}, {"三", "3"}, {"二", "2"}, {"一", "1"},
}

var (
	albumEdition = regexp.MustCompile(`(?i)\b(special|deluxe|limited|expanded|anniversary)\s+edition\b|\bremaster(ed)?\b|特别版|豪华版|纪念版|限量版`)
	albumStrip   = regexp.MustCompile(`[^a-z0-9\x{4e00}-\x{9fa5}]`)
)

// NormalizeAlbum 生成用于模糊比较的专辑名：
// 全角转半角、转小写、去掉 Special Edition 之类的版本说明、中文数字转阿拉伯数字、
// 只保留 [a-z0-9] 和中文字符。括号里的 Live、Remix 等属于不同版本，保留。
func NormalizeAlbum(title string) string {
	if strings.TrimSpace(title) == "" {
		return ""
	}
	s := width.Fold.String(title)
	s = cases.Lower(language.Und).String(s)

	s = albumEdition.ReplaceAllString(s, "")

	for _, n := range cjkNumerals {
		s = strings.ReplaceAll(s, n.cn, n.digits)
	}
	return albumStrip.ReplaceAllString(s, "")
}

// AlbumsMatch 判断两个专辑名在规范化后是否相同
func AlbumsMatch(a, b string) bool {
	return NormalizeAlbum(a) == NormalizeAlbum(b)
}
