package track

import (
	"strings"

	"github.com/yleoer/musicapi/pkg/util"
)

// MasterSuffix 追加在 master 文件名末尾，用来和同名的 flac 文件区分
const MasterSuffix = " [M]"

// FileName 构造下载文件名 "{identity} {album}[ [M]]{ext}"
func FileName(identity, album string, tier Tier, ext string) string {
	base := identity
	if safeAlbum := util.SanitizeFileName(album); safeAlbum != "" {
		base = identity + " " + safeAlbum
	}
	base = util.SanitizeFileName(base)
	if tier == TierMaster {
		base += MasterSuffix
	}
	return base + NormalizeExt(ext)
}

// NormalizeExt 返回带点的小写扩展名，空值返回空
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
