// Package config loads repository connection settings from the process
// environment and from an optional INI-style repository config file,
// following the shape of the teacher's gateway/internal/config/config.go
// (godotenv + os.Getenv + typed defaults + fail-fast Load).
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rekord-project/rekord"
)

// Scheme identifies which backend a repository URL addresses.
type Scheme string

const (
	SchemeLocal Scheme = "local"
	SchemeS3    Scheme = "s3"
	SchemeSFTP  Scheme = "sftp"
)

const (
	defaultThreads = 4
)

// scpStyleSFTP matches the scp/rsync shorthand for an SFTP target,
// optional-user@host:path, with no sftp:// scheme. Checked only against
// URLs that don't already contain "://", so a real scheme (including
// sftp://) always falls through to url.Parse below instead.
var scpStyleSFTP = regexp.MustCompile(`^(?:([^@:/]+)@)?([^@:/]+):(.+)$`)

// Config captures everything needed to open a repository: which
// backend, where, and how to authenticate to both the backend and the
// repository's own keyring.
type Config struct {
	Scheme Scheme

	// Local
	Path string

	// S3
	S3Host      string
	S3Region    string
	S3Bucket    string
	S3AccessID  string
	S3AccessKey string
	S3UseTLS    bool

	// SFTP
	SSHHost     string
	SSHPort     int
	SSHUser     string
	SSHPath     string
	SSHPassword string
	SSHKeyFile  string

	// Repository
	Password string
	Threads  int
}

// Load reads REKORD_* and backend-specific environment variables,
// following a best-effort .env load exactly like the teacher's Load().
// repoURL overrides REKORD_REPOSITORY when non-empty (e.g. a CLI flag).
func Load(repoURL string) (Config, error) {
	_ = godotenv.Load(".env")

	if repoURL == "" {
		repoURL = strings.TrimSpace(os.Getenv("REKORD_REPOSITORY"))
	}
	if repoURL == "" {
		return Config{}, rekord.NewError("config.Load", rekord.KindConfig,
			fmt.Errorf("no repository URL given (REKORD_REPOSITORY or -R)"))
	}

	cfg, err := ParseURL(repoURL)
	if err != nil {
		return Config{}, rekord.NewError("config.Load", rekord.KindConfig, err)
	}

	cfg.Password = os.Getenv("REKORD_PASSWORD")

	cfg.Threads = defaultThreads
	if raw := strings.TrimSpace(os.Getenv("REKORD_THREADS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, rekord.NewError("config.Load", rekord.KindConfig,
				fmt.Errorf("invalid REKORD_THREADS: %q", raw))
		}
		cfg.Threads = n
	}

	switch cfg.Scheme {
	case SchemeS3:
		cfg.S3AccessID = firstNonEmpty(os.Getenv("AWS_ACCESS_KEY_ID"), cfg.S3AccessID)
		cfg.S3AccessKey = firstNonEmpty(os.Getenv("AWS_SECRET_ACCESS_KEY"), cfg.S3AccessKey)
		cfg.S3Region = firstNonEmpty(os.Getenv("AWS_REGION"), cfg.S3Region)
	case SchemeSFTP:
		cfg.SSHPassword = firstNonEmpty(os.Getenv("SSH_PASSWORD"), cfg.SSHPassword)
		cfg.SSHKeyFile = firstNonEmpty(os.Getenv("SSH_KEY_FILE"), cfg.SSHKeyFile)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, rekord.NewError("config.Load", rekord.KindConfig, err)
	}

	return cfg, nil
}

// ParseURL discriminates a repository URL into a partially populated
// Config by scheme. This is intentionally kept out of the repository
// package itself (spec.md §4.5 treats URL parsing as out of scope for
// the repository façade; it belongs to the external-configuration
// surface named in §6).
func ParseURL(raw string) (Config, error) {
	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../") {
		return Config{Scheme: SchemeLocal, Path: raw}, nil
	}

	// The bare literals "S3"/"SFTP" (case-insensitive) name a scheme with
	// no further URL detail: the rest of its settings come from the
	// config file's [S3]/[SFTP] section (spec.md §6 grammar).
	switch strings.ToUpper(raw) {
	case "S3":
		return Config{Scheme: SchemeS3}, nil
	case "SFTP":
		return Config{Scheme: SchemeSFTP}, nil
	}

	// user@host:path (no scheme) is the common scp/rsync shorthand for
	// an SFTP target; net/url.Parse rejects it outright ("first path
	// segment in URL cannot contain colon"), so it must be recognized
	// before falling through to url.Parse.
	if !strings.Contains(raw, "://") {
		if m := scpStyleSFTP.FindStringSubmatch(raw); m != nil {
			return Config{
				Scheme:  SchemeSFTP,
				SSHUser: m[1],
				SSHHost: m[2],
				SSHPath: m[3],
			}, nil
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse repository URL: %w", err)
	}

	switch u.Scheme {
	case "", "file":
		path := u.Path
		if path == "" {
			path = raw
		}
		return Config{Scheme: SchemeLocal, Path: path}, nil

	case "s3", "https", "http":
		cfg := Config{
			Scheme:   SchemeS3,
			S3Host:   u.Host,
			S3UseTLS: u.Scheme != "http",
		}
		cfg.S3Bucket = strings.Trim(u.Path, "/")
		if q := u.Query(); q.Get("region") != "" {
			cfg.S3Region = q.Get("region")
		}
		return cfg, nil

	case "sftp", "ssh":
		cfg := Config{
			Scheme:  SchemeSFTP,
			SSHHost: u.Hostname(),
			SSHPath: u.Path,
		}
		if u.Port() != "" {
			port, err := strconv.Atoi(u.Port())
			if err != nil {
				return Config{}, fmt.Errorf("invalid sftp port %q: %w", u.Port(), err)
			}
			cfg.SSHPort = port
		}
		if u.User != nil {
			cfg.SSHUser = u.User.Username()
			if pwd, ok := u.User.Password(); ok {
				cfg.SSHPassword = pwd
			}
		}
		return cfg, nil

	default:
		return Config{}, fmt.Errorf("unsupported repository scheme %q", u.Scheme)
	}
}

func (c Config) validate() error {
	var missing []string

	switch c.Scheme {
	case SchemeLocal:
		if c.Path == "" {
			missing = append(missing, "path")
		}
	case SchemeS3:
		if c.S3Host == "" {
			missing = append(missing, "S3 host")
		}
		if c.S3Bucket == "" {
			missing = append(missing, "S3 bucket")
		}
	case SchemeSFTP:
		if c.SSHHost == "" {
			missing = append(missing, "SSH host")
		}
		if c.SSHUser == "" {
			missing = append(missing, "SSH user")
		}
	default:
		return fmt.Errorf("unknown scheme %q", c.Scheme)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
