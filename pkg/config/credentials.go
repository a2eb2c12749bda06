package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Credentials 是 CREDENTIALS_FILE 中保存的各平台登录信息
type Credentials struct {
	Netease NeteaseCredentials `yaml:"netease"`
	QQ      QQCredentials      `yaml:"qq"`
}

type NeteaseCredentials struct {
	Cookie string `yaml:"cookie"`
}

type QQCredentials struct {
	UIN          string `yaml:"uin"`
	MusicKey     string `yaml:"qqmusic_key"`
	RefreshToken string `yaml:"refresh_token"`
}

// LoadCredentials 读取凭据文件，文件不存在时返回空凭据
func LoadCredentials(path string) (*Credentials, error) {
	creds := &Credentials{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return creds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	return creds, nil
}

// SaveCredentials 先写临时文件再重命名，避免写到一半的文件被读到
func SaveCredentials(path string, creds *Credentials) error {
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}
