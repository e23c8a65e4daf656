package facebook

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

const (
	envPageID       = "FACEBOOK_PAGE_ID"
	envAccessToken  = "FACEBOOK_ACCESS_TOKEN"
	envGraphVersion = "FACEBOOK_GRAPH_VERSION"
)

// EnvStore persists page credentials into a dotenv file so they survive restarts.
type EnvStore struct {
	mu   sync.Mutex
	path string
}

func NewEnvStore(path string) *EnvStore {
	if path == "" {
		path = ".env"
	}
	return &EnvStore{path: path}
}

// Save writes the non-empty fields of creds into the env file and the process environment.
// Other keys already in the file are kept.
func (s *EnvStore) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := godotenv.Read(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read env file %s: %w", s.path, err)
		}
		values = map[string]string{}
	}
	updates := map[string]string{
		envPageID:       creds.PageID,
		envAccessToken:  creds.AccessToken,
		envGraphVersion: creds.GraphVersion,
	}
	for key, value := range updates {
		if value == "" {
			continue
		}
		values[key] = value
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	if err := godotenv.Write(values, s.path); err != nil {
		return fmt.Errorf("write env file %s: %w", s.path, err)
	}
	return nil
}
