package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AdminID marks the roster entry whose credentials and pin grant admin scope.
const AdminID = "ADMIN"

// Agent is one roster entry. Keys holds newline-delimited credentials, the
// same format agents paste into the external config editor.
type Agent struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Pin  string `yaml:"pin" json:"-"`
	Keys string `yaml:"keys" json:"-"`
}

// KeyList splits the newline-delimited credential block, dropping blanks and
// fragments too short to be real keys.
func (a Agent) KeyList() []string {
	var out []string
	for _, line := range strings.Split(a.Keys, "\n") {
		k := strings.TrimSpace(line)
		if len(k) > 5 {
			out = append(out, k)
		}
	}
	return out
}

// Roster is one immutable snapshot of the agents file. Consumers must not
// hold it across calls; the file is re-read so edits are picked up live.
type Roster struct {
	Agents []Agent `yaml:"agents"`
}

// ByID returns the agent with the given id, if present.
func (r Roster) ByID(id string) (Agent, bool) {
	for _, a := range r.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// Source loads roster snapshots from a YAML file on disk.
type Source struct {
	path string
}

func NewSource(path string) *Source {
	return &Source{path: path}
}

// Snapshot re-reads the agents file. A missing file yields an empty roster
// rather than an error so the service can start before configuration exists.
func (s *Source) Snapshot() (Roster, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Roster{}, nil
		}
		return Roster{}, fmt.Errorf("read agents file: %w", err)
	}
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Roster{}, fmt.Errorf("parse agents file: %w", err)
	}
	return r, nil
}

// Settings is the env-derived runtime configuration.
type Settings struct {
	Port           string
	DataDir        string
	AgentsPath     string
	APIURL         string
	DefaultModel   string
	MaxConcurrency int
	RetryFactor    int
	RetryBackoff   time.Duration
	ChunkSeconds   int
}

// FromEnv builds settings from the environment with working defaults.
func FromEnv() Settings {
	return Settings{
		Port:           envOr("PORT", "8080"),
		DataDir:        envOr("DATA_DIR", "data"),
		AgentsPath:     envOr("AGENTS_PATH", "agents.yaml"),
		APIURL:         envOr("TRANSCRIBE_URL", "https://api.groq.com/openai/v1/audio/transcriptions"),
		DefaultModel:   envOr("DEFAULT_MODEL", "whisper-large-v3"),
		MaxConcurrency: envInt("MAX_CONCURRENCY", 1),
		RetryFactor:    envInt("RETRY_FACTOR", 2),
		RetryBackoff:   time.Duration(envInt("RETRY_BACKOFF_MS", 1000)) * time.Millisecond,
		ChunkSeconds:   envInt("CHUNK_SECONDS", 600),
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
