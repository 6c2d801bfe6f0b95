// Package config loads the gateway configuration.
//
// The configuration is validated against an embedded CUE schema that also
// carries every default, so a missing or partial file still yields a complete
// configuration. YAML and JSON files are accepted and may reference
// environment variables:
//
//	# gateway.yaml
//	snmp:
//	  host: "${SNMP_HOST:-127.0.0.1}"
//	  community: $SNMP_COMMUNITY
//	forward:
//	  nats:
//	    url: "${NATS_URL:-}"
//
// # Hot Reload
//
// A Manager watches the file and re-validates it on every write. Listeners
// receive the new configuration, or the error that kept the previous one in
// place:
//
//	manager, err := config.NewManager(config.Options{Path: "gateway.yaml"})
//	if err != nil {
//		return err
//	}
//	defer manager.Close()
//
//	manager.OnChange(func(cfg config.Gateway, err error) {
//		if err == nil {
//			factory.Replace(cfg.Agent())
//		}
//	})
//	if err := manager.Watch(ctx); err != nil {
//		return err
//	}
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	"github.com/geekxflood/snmpgateway/logging"
	"github.com/geekxflood/snmpgateway/poller"
	"github.com/geekxflood/snmpgateway/session"
)

//go:embed schema.cue
var schemaSource string

// Schema returns the CUE schema configurations are validated against.
func Schema() string {
	return schemaSource
}

// Gateway is the decoded configuration.
type Gateway struct {
	Server  Server         `json:"server"`
	SNMP    SNMP           `json:"snmp"`
	Polling Polling        `json:"polling"`
	Trap    Trap           `json:"trap"`
	Forward Forward        `json:"forward"`
	Logging logging.Config `json:"logging"`
}

// Server configures the HTTP listener.
type Server struct {
	Port            int    `json:"port"`
	RequestTimeout  string `json:"request_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

// SNMP configures the agent connection and outbound sessions.
type SNMP struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Community string `json:"community"`
	Timeout   string `json:"timeout"`
	Retries   int    `json:"retries"`
	Version   string `json:"version"`
}

// Polling is the poller configuration applied at startup.
type Polling struct {
	Enabled        bool     `json:"enabled"`
	Interval       int      `json:"interval"`
	Type           string   `json:"type"`
	OIDs           []string `json:"oids"`
	OID            string   `json:"oid"`
	NonRepeaters   int      `json:"non_repeaters"`
	MaxRepetitions int      `json:"max_repetitions"`
}

// Trap configures the notification listener.
type Trap struct {
	BindAddress      string `json:"bind_address"`
	Port             int    `json:"port"`
	Community        string `json:"community"`
	SubscriberBuffer int    `json:"subscriber_buffer"`
	MIBDirectory     string `json:"mib_directory"`
	MIBCacheSize     int    `json:"mib_cache_size"`
}

// Forward configures trap forwarding.
type Forward struct {
	NATS NATS `json:"nats"`
}

// NATS configures the NATS forwarder. An empty URL disables it.
type NATS struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// Agent returns the configured agent connection.
func (g Gateway) Agent() session.Agent {
	return session.Agent{Host: g.SNMP.Host, Port: g.SNMP.Port, Community: g.SNMP.Community}
}

// SessionOptions returns the session settings without hooks or logger.
func (g Gateway) SessionOptions() session.Options {
	timeout, _ := time.ParseDuration(g.SNMP.Timeout)
	return session.Options{
		Timeout: timeout,
		Retries: g.SNMP.Retries,
		Version: g.SNMP.Version,
	}
}

// PollUpdate returns the startup polling configuration as a full update.
func (g Gateway) PollUpdate() poller.Update {
	p := g.Polling
	oids := append([]string(nil), p.OIDs...)
	return poller.Update{
		IsEnabled:      &p.Enabled,
		Interval:       &p.Interval,
		Type:           &p.Type,
		OIDs:           &oids,
		OID:            &p.OID,
		NonRepeaters:   &p.NonRepeaters,
		MaxRepetitions: &p.MaxRepetitions,
	}
}

// RequestTimeout returns the HTTP request bound for SNMP calls.
func (g Gateway) RequestTimeout() time.Duration {
	d, _ := time.ParseDuration(g.Server.RequestTimeout)
	return d
}

// ShutdownTimeout returns the graceful shutdown bound.
func (g Gateway) ShutdownTimeout() time.Duration {
	d, _ := time.ParseDuration(g.Server.ShutdownTimeout)
	return d
}

// validate checks what the schema cannot express.
func (g Gateway) validate() error {
	durations := map[string]string{
		"server.request_timeout":  g.Server.RequestTimeout,
		"server.shutdown_timeout": g.Server.ShutdownTimeout,
		"snmp.timeout":            g.SNMP.Timeout,
	}
	for path, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration at '%s': %w", path, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid duration at '%s': must not be negative", path)
		}
	}

	if g.Polling.Type == poller.TypeGet && len(g.Polling.OIDs) == 0 {
		return errors.New("validation error at 'polling.oids': must not be empty for type get")
	}
	return nil
}

// Default returns the configuration produced by the schema alone.
func Default() Gateway {
	g, err := parse(nil, "")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema is invalid: %v", err))
	}
	return g
}

// Load reads, expands and validates the file at path. An empty path returns
// the defaults.
func Load(path string) (Gateway, error) {
	if path == "" {
		return Default(), nil
	}

	content, err := safeReadFile(path)
	if err != nil {
		return Gateway{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	content = expandEnvironmentVariables(content)
	if err := validateFileContent(content, path); err != nil {
		return Gateway{}, err
	}

	return parse(content, path)
}

// parse unifies the file content with the schema and decodes the result.
// A nil content yields the schema defaults.
func parse(content []byte, path string) (Gateway, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Gateway{}, fmt.Errorf("failed to compile schema: %w", err)
	}

	value := schema
	if content != nil {
		user, err := compileFile(ctx, content, path)
		if err != nil {
			return Gateway{}, err
		}
		value = schema.Unify(user)
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Gateway{}, formatValidationError(err)
	}

	var g Gateway
	if err := value.Decode(&g); err != nil {
		return Gateway{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := g.validate(); err != nil {
		return Gateway{}, err
	}
	return g, nil
}

func compileFile(ctx *cue.Context, content []byte, path string) (cue.Value, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		file, err := yaml.Extract(path, content)
		if err != nil {
			return cue.Value{}, fmt.Errorf("failed to extract YAML config: %w", err)
		}
		value := ctx.BuildFile(file)
		if err := value.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("failed to build YAML config: %w", err)
		}
		return value, nil
	case ".json":
		value := ctx.CompileBytes(content, cue.Filename(path))
		if err := value.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		return value, nil
	default:
		return cue.Value{}, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// formatValidationError turns "path: message" CUE errors into a single line
// naming the offending field.
func formatValidationError(err error) error {
	msg := strings.TrimSpace(strings.SplitN(err.Error(), "\n", 2)[0])
	if path, detail, ok := strings.Cut(msg, ":"); ok && !strings.ContainsAny(path, " \t") {
		return fmt.Errorf("validation error at '%s': %s", path, strings.TrimSpace(detail))
	}
	return fmt.Errorf("configuration validation failed: %w", err)
}

var envDefaultPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-([^}]*)\}`)

// expandEnvironmentVariables replaces ${VAR:-default}, ${VAR} and $VAR.
// Unset variables without a default expand to the empty string.
func expandEnvironmentVariables(content []byte) []byte {
	expanded := envDefaultPattern.ReplaceAllStringFunc(string(content), func(match string) string {
		parts := envDefaultPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
	return []byte(os.ExpandEnv(expanded))
}

// validateFileContent rejects files that are empty or contain only comments.
func validateFileContent(content []byte, path string) error {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return nil
		}
	}
	return fmt.Errorf("configuration file %s is empty or contains only comments", path)
}

// safeReadFile reads a regular file of bounded size after rejecting
// traversal and system paths.
func safeReadFile(filePath string) ([]byte, error) {
	if filePath == "" {
		return nil, errors.New("file path cannot be empty")
	}

	cleanPath := filepath.Clean(filePath)
	if strings.Contains(cleanPath, "..") {
		return nil, errors.New("invalid file path: contains directory traversal")
	}
	if filepath.IsAbs(cleanPath) {
		for _, sysDir := range []string{"/etc/passwd", "/etc/shadow", "/proc/", "/sys/"} {
			if strings.HasPrefix(cleanPath, sysDir) {
				return nil, fmt.Errorf("access to system directory not allowed: %s", sysDir)
			}
		}
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("file validation failed: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.New("path must be a regular file")
	}

	const maxFileSize = 1 << 20
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	return os.ReadFile(cleanPath)
}
