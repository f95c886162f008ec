package trello

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/workdeck/workdeck/internal/config"
)

// ConfigStore reads and writes Trello settings under the app home:
// trello/credentials.json plus trello/projects/<encoded-path>.json.
// Missing files read as zero values; writes are atomic.
type ConfigStore struct {
	dir string
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{dir: filepath.Join(config.Home(), "trello")}
}

func (s *ConfigStore) credentialsPath() string {
	return filepath.Join(s.dir, "credentials.json")
}

func (s *ConfigStore) projectPath(projectPath string) string {
	return filepath.Join(s.dir, "projects", config.EncodeProjectPath(projectPath)+".json")
}

// LoadCredentials returns nil when none are stored.
func (s *ConfigStore) LoadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(s.credentialsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	return &creds, nil
}

func (s *ConfigStore) SaveCredentials(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return config.AtomicWrite(s.credentialsPath(), data)
}

func (s *ConfigStore) DeleteCredentials() error {
	err := os.Remove(s.credentialsPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LoadProjectConfig returns zero config for projects never configured.
func (s *ConfigStore) LoadProjectConfig(projectPath string) (ProjectConfig, error) {
	data, err := os.ReadFile(s.projectPath(projectPath))
	if os.IsNotExist(err) {
		return ProjectConfig{}, nil
	}
	if err != nil {
		return ProjectConfig{}, err
	}
	var cfg ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ProjectConfig{}, fmt.Errorf("decoding project config: %w", err)
	}
	return cfg, nil
}

func (s *ConfigStore) SaveProjectConfig(projectPath string, cfg ProjectConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return config.AtomicWrite(s.projectPath(projectPath), data)
}
