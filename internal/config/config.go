// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Query defaults
const (
	DefaultLimitValue      = 1000
	MaxPageOffsetValue     = 100000
	DefaultPageSizeValue   = 20
	DefaultPrimaryKeyValue = "id"
)

// Deployment modes
const (
	DeploySingle      = "single"
	DeployDistributed = "distributed"
)

// Node selection policies for distributed deployments
const (
	SelectRandom     = "random"
	SelectRoundRobin = "round_robin"
	SelectWeighted   = "weighted"
)

// Node describes one engine endpoint.
type Node struct {
	URL      string
	Username string
	Password string
	Weight   int
}

// Config holds all configuration for the query layer.
type Config struct {
	Nodes      []Node // ES_HOSTS (comma separated), ES_USERNAME, ES_PASSWORD, ES_NODE_WEIGHTS
	Deploy     string // ES_DEPLOY, "single" (or 0) or "distributed" (or 1), default "single"
	RWSeparate bool   // ES_RW_SEPARATE, default false
	MasterNum  int    // ES_MASTER_NUM, default 1
	ReplicaNo  int    // ES_REPLICA_NO, pinned read node index, default -1 (unpinned)
	Selector   string // ES_SELECTOR, "random", "round_robin" or "weighted", default "random"

	DocType       string // ES_DOC_TYPE, default "" (typeless bulk metadata)
	TablePrefix   string // TABLE_PREFIX, default ""
	PrimaryKey    string // PRIMARY_KEY, default "id"
	DefaultLimit  int    // DEFAULT_LIMIT, default 1000
	MaxPageOffset int    // MAX_PAGE_OFFSET, default 100000
	Debug         bool   // DEBUG, log every executed verb, default false

	HTTPClientTimeout   time.Duration // HTTP_CLIENT_TIMEOUT_MS, default 10000ms (10s)
	ResultCacheMaxItems int           // RESULT_CACHE_MAX_ITEMS, default 1024

	// Logging configuration
	LogLevel      string // LOG_LEVEL, default "info"
	LogFile       string // LOG_FILE, default "" (stderr only)
	LogMaxSizeMB  int    // LOG_MAX_SIZE_MB, default 10
	LogMaxBackups int    // LOG_MAX_BACKUPS, default 5
	LogMaxAgeDays int    // LOG_MAX_AGE_DAYS, default 28
	LogCompress   bool   // LOG_COMPRESS, default true
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Nodes:      parseNodes(getEnvString("ES_HOSTS", "http://localhost:9200"), getEnvString("ES_USERNAME", ""), getEnvString("ES_PASSWORD", ""), getEnvString("ES_NODE_WEIGHTS", "")),
		Deploy:     parseDeploy(getEnvString("ES_DEPLOY", DeploySingle)),
		RWSeparate: getEnvBool("ES_RW_SEPARATE", false),
		MasterNum:  getEnvInt("ES_MASTER_NUM", 1),
		ReplicaNo:  getEnvInt("ES_REPLICA_NO", -1),
		Selector:   getEnvString("ES_SELECTOR", SelectRandom),

		DocType:       getEnvString("ES_DOC_TYPE", ""),
		TablePrefix:   getEnvString("TABLE_PREFIX", ""),
		PrimaryKey:    getEnvString("PRIMARY_KEY", DefaultPrimaryKeyValue),
		DefaultLimit:  getEnvInt("DEFAULT_LIMIT", DefaultLimitValue),
		MaxPageOffset: getEnvInt("MAX_PAGE_OFFSET", MaxPageOffsetValue),
		Debug:         getEnvBool("DEBUG", false),

		HTTPClientTimeout:   getEnvDurationMs("HTTP_CLIENT_TIMEOUT_MS", 10000),
		ResultCacheMaxItems: getEnvInt("RESULT_CACHE_MAX_ITEMS", 1024),

		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		LogFile:       getEnvString("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 10),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// Distributed reports whether the configuration describes several nodes
// selected per role.
func (c *Config) Distributed() bool {
	return c.Deploy == DeployDistributed
}

func parseNodes(hosts, username, password, weights string) []Node {
	var ws []string
	if weights != "" {
		ws = strings.Split(weights, ",")
	}
	var nodes []Node
	for i, h := range strings.Split(hosts, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		n := Node{URL: h, Username: username, Password: password, Weight: 1}
		if i < len(ws) {
			if w, err := strconv.Atoi(strings.TrimSpace(ws[i])); err == nil && w > 0 {
				n.Weight = w
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func parseDeploy(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", DeployDistributed:
		return DeployDistributed
	default:
		return DeploySingle
	}
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationMs(key string, defaultMs int) time.Duration {
	ms := getEnvInt(key, defaultMs)
	return time.Duration(ms) * time.Millisecond
}
