package netease

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	eapiKey     = []byte("e82ckenh8dichen8")
	cacheKeyKey = []byte(")(13daqP@ssw0rd~")
)

const eapiSeparator = "-36cd479b6b5-"

// encryptParams 生成 eapi 请求体中的 params 字段
func encryptParams(urlPath string, payload any) (string, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode eapi payload: %w", err)
	}
	digest := md5.Sum([]byte("nobody" + urlPath + "use" + string(text) + "md5forencrypt"))
	message := urlPath + eapiSeparator + string(text) + eapiSeparator + hex.EncodeToString(digest[:])
	encrypted, err := ecbEncrypt(eapiKey, []byte(message))
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(encrypted)), nil
}

// decryptResponse 解密 eapi 响应体
func decryptResponse(body []byte) ([]byte, error) {
	plain, err := ecbDecrypt(eapiKey, body)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt eapi response: %w", err)
	}
	return plain, nil
}

// cacheKey 生成专辑接口 URL 上的 cache_key：参数按首字母排序后加密再 base64
func cacheKey(params map[string]string) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	encrypted, err := ecbEncrypt(cacheKeyKey, []byte(strings.Join(parts, "&")))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func ecbEncrypt(key, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	padding := bs - len(plain)%bs
	data := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(padding)}, padding)...)
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Encrypt(out[i:i+bs], data[i:i+bs])
	}
	return out, nil
}

func ecbDecrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(data) == 0 || len(data)%bs != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Decrypt(out[i:i+bs], data[i:i+bs])
	}
	padding := int(out[len(out)-1])
	if padding == 0 || padding > bs || padding > len(out) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range out[len(out)-padding:] {
		if int(b) != padding {
			return nil, errors.New("invalid padding")
		}
	}
	return out[:len(out)-padding], nil
}
