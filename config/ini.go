package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadFile reads an INI-style repository config file with [Repository],
// [S3] and [SFTP] sections, grounded on original_source's rk_LoadConfig
// (config.cc). No suitable typed-section INI library exists in this
// pack (the teacher has no INI parser at all), so this is a small
// hand-rolled scanner using bufio.Scanner — see DESIGN.md.
func LoadFile(filename string) (Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", filename, err)
	}
	defer f.Close()

	return LoadReader(f)
}

// LoadReader parses the INI format described by LoadFile from r.
func LoadReader(r io.Reader) (Config, error) {
	var cfg Config
	section := ""

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Config{}, fmt.Errorf("config: line %d: expected key = value", lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := cfg.setProperty(section, key, value); err != nil {
			return Config{}, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.Threads <= 0 {
		cfg.Threads = defaultThreads
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func (c *Config) setProperty(section, key, value string) error {
	switch section {
	case "Repository":
		switch key {
		case "Repository":
			parsed, err := ParseURL(value)
			if err != nil {
				return err
			}
			*c = parsed
		case "Password":
			c.Password = value
		case "Threads":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid Threads value %q", value)
			}
			c.Threads = n
		default:
			return fmt.Errorf("unknown [Repository] key %q", key)
		}

	case "S3":
		switch key {
		case "Host":
			c.S3Host = value
		case "Region":
			c.S3Region = value
		case "Bucket":
			c.S3Bucket = value
		case "AccessID", "AccessKeyID":
			c.S3AccessID = value
		case "AccessKey", "SecretAccessKey":
			c.S3AccessKey = value
		case "UseTLS":
			tls, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid UseTLS value %q", value)
			}
			c.S3UseTLS = tls
		default:
			return fmt.Errorf("unknown [S3] key %q", key)
		}

	case "SFTP":
		switch key {
		case "Host":
			c.SSHHost = value
		case "Port":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid Port value %q", value)
			}
			c.SSHPort = n
		case "User", "Username":
			c.SSHUser = value
		case "Path":
			c.SSHPath = value
		case "Password":
			c.SSHPassword = value
		case "KeyFile":
			c.SSHKeyFile = value
		default:
			return fmt.Errorf("unknown [SFTP] key %q", key)
		}

	default:
		return fmt.Errorf("unknown section %q", section)
	}

	return nil
}
