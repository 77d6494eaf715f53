// server/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	LogLevel        string        `mapstructure:"logLevel"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type MongoConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"dbName"`
}

// StoreConfig picks the batch store backend: "mongo" or "memory".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type AuthConfig struct {
	// DefaultRole is given to self-registered accounts.
	DefaultRole string `mapstructure:"defaultRole"`
	// AllowRoleChoice lets registration pick any role except FDA.
	AllowRoleChoice bool `mapstructure:"allowRoleChoice"`
}

type WorkflowConfig struct {
	SettlingDelay      time.Duration `mapstructure:"settlingDelay"`
	StaleDispatchAfter time.Duration `mapstructure:"staleDispatchAfter"`
	RecoveryInterval   time.Duration `mapstructure:"recoveryInterval"`
	BatchConcurrency   int           `mapstructure:"batchConcurrency"`
}

type LLMConfig struct {
	APIKey  string        `mapstructure:"apiKey"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type S3Config struct {
	Enabled          bool   `mapstructure:"enabled"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	Endpoint         string `mapstructure:"endpoint"`
	Prefix           string `mapstructure:"prefix"`
	AccessKeyID      string `mapstructure:"accessKeyID"`
	SecretAccessKey  string `mapstructure:"secretAccessKey"`
	CloudFrontDomain string `mapstructure:"cloudFrontDomain"`
}

type FabricConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ChannelName       string `mapstructure:"channelName"`
	ChaincodeName     string `mapstructure:"chaincodeName"`
	OrgName           string `mapstructure:"orgName"`
	UserName          string `mapstructure:"userName"`
	ConnectionProfile string `mapstructure:"connectionProfile"`
	UserCertPath      string `mapstructure:"userCertPath"`
	UserKeyDir        string `mapstructure:"userKeyDir"`
	WalletPath        string `mapstructure:"walletPath"`
	QueueSize         int    `mapstructure:"queueSize"`
	// DiscoveryAsLocalhost maps discovered peer addresses to localhost, as
	// needed when the network runs in docker on the same host.
	DiscoveryAsLocalhost bool `mapstructure:"discoveryAsLocalhost"`
}

// SeedConfig describes the FDA reviewer account created on first start.
type SeedConfig struct {
	FDAEmail    string `mapstructure:"fdaEmail"`
	FDAName     string `mapstructure:"fdaName"`
	FDAPassword string `mapstructure:"fdaPassword"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Store    StoreConfig    `mapstructure:"store"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	LLM      LLMConfig      `mapstructure:"llm"`
	S3       S3Config       `mapstructure:"s3"`
	Fabric   FabricConfig   `mapstructure:"fabric"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.logLevel", "info")
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdownTimeout", 15*time.Second)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.dbName", "pharma_scm")
	v.SetDefault("store.driver", "mongo")
	v.SetDefault("jwt.issuer", "pharma-scm-api-server")
	v.SetDefault("jwt.expiration", 24*time.Hour)
	v.SetDefault("auth.defaultRole", "Patient")
	v.SetDefault("workflow.settlingDelay", 1500*time.Millisecond)
	v.SetDefault("workflow.staleDispatchAfter", time.Minute)
	v.SetDefault("workflow.recoveryInterval", 30*time.Second)
	v.SetDefault("workflow.batchConcurrency", 8)
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.prefix", "pharma-scm/")
	v.SetDefault("fabric.walletPath", "wallet")
	v.SetDefault("fabric.queueSize", 256)
	v.SetDefault("fabric.discoveryAsLocalhost", true)
	v.SetDefault("seed.fdaName", "FDA Reviewer")
}

var envBindings = map[string]string{
	"server.port":                 "SERVER_PORT",
	"server.mode":                 "SERVER_MODE",
	"server.logLevel":             "LOG_LEVEL",
	"server.allowedOrigins":       "ALLOWED_ORIGINS",
	"mongo.uri":                   "MONGO_URI",
	"mongo.dbName":                "MONGO_DBNAME",
	"store.driver":                "STORE_DRIVER",
	"jwt.secret":                  "JWT_SECRET",
	"jwt.expiration":              "JWT_EXPIRATION",
	"auth.defaultRole":            "AUTH_DEFAULT_ROLE",
	"auth.allowRoleChoice":        "AUTH_ALLOW_ROLE_CHOICE",
	"workflow.settlingDelay":      "WORKFLOW_SETTLING_DELAY",
	"workflow.staleDispatchAfter": "WORKFLOW_STALE_DISPATCH_AFTER",
	"workflow.recoveryInterval":   "WORKFLOW_RECOVERY_INTERVAL",
	"workflow.batchConcurrency":   "WORKFLOW_BATCH_CONCURRENCY",
	"llm.apiKey":                  "GEMINI_API_KEY",
	"llm.model":                   "LLM_MODEL",
	"llm.timeout":                 "LLM_TIMEOUT",
	"s3.enabled":                  "S3_ENABLED",
	"s3.bucket":                   "S3_BUCKET",
	"s3.region":                   "S3_REGION",
	"s3.endpoint":                 "S3_ENDPOINT",
	"s3.accessKeyID":              "S3_ACCESS_KEY_ID",
	"s3.secretAccessKey":          "S3_SECRET_ACCESS_KEY",
	"s3.cloudFrontDomain":         "S3_CLOUDFRONT_DOMAIN",
	"fabric.enabled":              "FABRIC_ENABLED",
	"seed.fdaEmail":               "SEED_FDA_EMAIL",
	"seed.fdaPassword":            "SEED_FDA_PASSWORD",
}

// LoadConfig reads config.yaml from path and overrides it with environment
// variables. A missing file is not an error.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	for key, env := range envBindings {
		if err = v.BindEnv(key, env); err != nil {
			return
		}
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	switch c.Store.Driver {
	case "mongo", "memory":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Workflow.RecoveryInterval <= 0 {
		return errors.New("workflow.recoveryInterval must be positive")
	}
	if c.Workflow.StaleDispatchAfter <= c.Workflow.SettlingDelay {
		return errors.New("workflow.staleDispatchAfter must exceed workflow.settlingDelay")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return errors.New("s3.bucket is required when s3 is enabled")
	}
	return nil
}
