package config

import "testing"

func TestParseURLLocalPaths(t *testing.T) {
	for _, raw := range []string{"/var/backups/rekord", "./backups", "../backups"} {
		cfg, err := ParseURL(raw)
		if err != nil {
			t.Fatalf("ParseURL(%q): %v", raw, err)
		}
		if cfg.Scheme != SchemeLocal || cfg.Path != raw {
			t.Fatalf("ParseURL(%q) = %+v, want local path %q", raw, cfg, raw)
		}
	}
}

func TestParseURLBareLiterals(t *testing.T) {
	cfg, err := ParseURL("s3")
	if err != nil {
		t.Fatalf("ParseURL(s3): %v", err)
	}
	if cfg.Scheme != SchemeS3 {
		t.Fatalf("ParseURL(s3).Scheme = %q, want %q", cfg.Scheme, SchemeS3)
	}

	cfg, err = ParseURL("SFTP")
	if err != nil {
		t.Fatalf("ParseURL(SFTP): %v", err)
	}
	if cfg.Scheme != SchemeSFTP {
		t.Fatalf("ParseURL(SFTP).Scheme = %q, want %q", cfg.Scheme, SchemeSFTP)
	}
}

func TestParseURLSFTPSchemed(t *testing.T) {
	cfg, err := ParseURL("sftp://backup@example.com:2222/srv/backups")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	if cfg.Scheme != SchemeSFTP || cfg.SSHHost != "example.com" || cfg.SSHPort != 2222 ||
		cfg.SSHUser != "backup" || cfg.SSHPath != "/srv/backups" {
		t.Fatalf("ParseURL = %+v, want sftp host=example.com port=2222 user=backup path=/srv/backups", cfg)
	}
}

func TestParseURLSFTPScpStyle(t *testing.T) {
	cfg, err := ParseURL("backup@example.com:/srv/backups")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	if cfg.Scheme != SchemeSFTP || cfg.SSHHost != "example.com" || cfg.SSHUser != "backup" || cfg.SSHPath != "/srv/backups" {
		t.Fatalf("ParseURL = %+v, want sftp host=example.com user=backup path=/srv/backups", cfg)
	}
}

func TestParseURLSFTPScpStyleNoUser(t *testing.T) {
	cfg, err := ParseURL("example.com:backups/rekord")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	if cfg.Scheme != SchemeSFTP || cfg.SSHHost != "example.com" || cfg.SSHUser != "" || cfg.SSHPath != "backups/rekord" {
		t.Fatalf("ParseURL = %+v, want sftp host=example.com user=\"\" path=backups/rekord", cfg)
	}
}

func TestParseURLS3Schemed(t *testing.T) {
	cfg, err := ParseURL("s3://backups-bucket.s3.amazonaws.com/prefix?region=us-east-1")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	if cfg.Scheme != SchemeS3 || cfg.S3Host != "backups-bucket.s3.amazonaws.com" || cfg.S3Bucket != "prefix" || cfg.S3Region != "us-east-1" {
		t.Fatalf("ParseURL = %+v, want s3 host=backups-bucket.s3.amazonaws.com bucket=prefix region=us-east-1", cfg)
	}
}
