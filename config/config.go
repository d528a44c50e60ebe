package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Minio    MinioConfig    `yaml:"minio"`
	Postgres PostgresConfig `yaml:"postgres"`
	LLM      LLMConfig      `yaml:"llm"`
	Auth     AuthConfig     `yaml:"auth"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Users    []User         `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MinioConfig struct {
	Endpoint          string `yaml:"endpoint"`
	AccessKey         string `yaml:"access_key"`
	SecretKey         string `yaml:"secret_key"`
	SubmissionsBucket string `yaml:"submissions_bucket"`
	RegulationsBucket string `yaml:"regulations_bucket"`
	UseSSL            bool   `yaml:"use_ssl"`
}

type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type LLMConfig struct {
	BaseURL             string  `yaml:"base_url"`
	APIKey              string  `yaml:"api_key"`
	ChatModel           string  `yaml:"chat_model"`
	VisionModel         string  `yaml:"vision_model"`
	EmbeddingModel      string  `yaml:"embedding_model"`
	EmbeddingDimensions int     `yaml:"embedding_dimensions"`
	Temperature         float64 `yaml:"temperature"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// PipelineConfig tunes the document-to-findings pipeline.
type PipelineConfig struct {
	ChunkWords           int     `yaml:"chunk_words"`
	RegulationChunkChars int     `yaml:"regulation_chunk_chars"`
	MinTextLength        int     `yaml:"min_text_length"`
	MatchThreshold       float64 `yaml:"match_threshold"`
	MatchCount           int     `yaml:"match_count"`
	MaxSubmissionChars   int     `yaml:"max_submission_chars"`
	MaxRegulationChars   int     `yaml:"max_regulation_chars"`
	ChunkConcurrency     int     `yaml:"chunk_concurrency"`
	FailOnEmptyExtract   *bool   `yaml:"fail_on_empty_extract"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Minio.SubmissionsBucket == "" {
		cfg.Minio.SubmissionsBucket = "submissions"
	}
	if cfg.Minio.RegulationsBucket == "" {
		cfg.Minio.RegulationsBucket = "regulations"
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = 10
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.LLM.VisionModel == "" {
		cfg.LLM.VisionModel = cfg.LLM.ChatModel
	}
	if cfg.LLM.EmbeddingDimensions == 0 {
		cfg.LLM.EmbeddingDimensions = 768
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 120
	}
	if cfg.Pipeline.ChunkWords == 0 {
		cfg.Pipeline.ChunkWords = 200
	}
	if cfg.Pipeline.RegulationChunkChars == 0 {
		cfg.Pipeline.RegulationChunkChars = 1200
	}
	if cfg.Pipeline.MinTextLength == 0 {
		cfg.Pipeline.MinTextLength = 50
	}
	if cfg.Pipeline.MatchThreshold == 0 {
		cfg.Pipeline.MatchThreshold = 0.65
	}
	if cfg.Pipeline.MatchCount == 0 {
		cfg.Pipeline.MatchCount = 8
	}
	if cfg.Pipeline.MaxSubmissionChars == 0 {
		cfg.Pipeline.MaxSubmissionChars = 15000
	}
	if cfg.Pipeline.MaxRegulationChars == 0 {
		cfg.Pipeline.MaxRegulationChars = 12000
	}
	if cfg.Pipeline.ChunkConcurrency == 0 {
		cfg.Pipeline.ChunkConcurrency = 4
	}
	if cfg.Pipeline.FailOnEmptyExtract == nil {
		failByDefault := true
		cfg.Pipeline.FailOnEmptyExtract = &failByDefault
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
