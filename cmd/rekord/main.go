// Command rekord is the CLI front end for the repository engine: init,
// put, get, and list, wired straight onto the config/repository/snapshot
// packages. Grounded on the teacher's single-purpose cmd/cxdb-*/main.go
// shape (flag.FlagSet, fmt.Fprintf to stderr, os.Exit(1) on failure) —
// this pack's Go corpus has no subcommand framework, so a bare switch
// over os.Args[1] dispatching to per-command flag.FlagSets is the
// grounded choice (see DESIGN.md).
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rekord-project/rekord"
	"github.com/rekord-project/rekord/config"
	"github.com/rekord-project/rekord/oid"
	"github.com/rekord-project/rekord/repository"
	"github.com/rekord-project/rekord/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "put":
		err = runPut(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "diff":
		err = runDiff(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "rekord: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "rekord: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: rekord <command> [arguments]

commands:
  init [-C cfg] [dir]                              create a new repository
  put [-R repo] [-n name] [--follow_symlinks] [--raw] <path>...   store a snapshot
  get [-R repo] [--flat] <oid> -O <dest>            restore a snapshot or object
  list [-R repo]                                    list snapshots
  diff [-R repo] <old-oid> <new-oid>                compare two snapshots`)
}

// runInit creates a brand-new repository at dir (or the current
// directory) and prints the generated full/write passwords exactly
// once: spec.md §6 gives the operator no other way to recover them.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfgPath := fs.String("C", "", "path to a repository config file, in place of [dir]")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg config.Config
	if *cfgPath != "" {
		var err error
		cfg, err = config.LoadFile(*cfgPath)
		if err != nil {
			return err
		}
	} else {
		dir := "."
		if fs.NArg() > 0 {
			dir = fs.Arg(0)
		}
		cfg = config.Config{Scheme: config.SchemeLocal, Path: dir, Threads: 4}
	}

	fullPassword, err := randomPassword()
	if err != nil {
		return err
	}
	writePassword, err := randomPassword()
	if err != nil {
		return err
	}

	pub, err := repository.Create(cfg, fullPassword, writePassword)
	if err != nil {
		return err
	}

	fmt.Printf("initialized repository (scheme=%s)\n", cfg.Scheme)
	fmt.Printf("public key:      %x\n", pub)
	fmt.Printf("full password:   %s\n", fullPassword)
	fmt.Printf("write password:  %s\n", writePassword)
	fmt.Println("store both passwords now: this is the only time they are printed.")
	return nil
}

func runPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	repoURL := fs.String("R", "", "repository URL (defaults to REKORD_REPOSITORY)")
	name := fs.String("n", "", "snapshot name")
	followSymlinks := fs.Bool("follow_symlinks", false, "follow symlinks instead of storing them as links")
	raw := fs.Bool("raw", false, "store exactly one path as a bare object, without a snapshot wrapper")
	captureXattrs := fs.Bool("xattrs", false, "capture extended attributes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	roots := fs.Args()
	if len(roots) == 0 {
		return fmt.Errorf("put: at least one path is required")
	}

	repo, err := openRepo(*repoURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	settings := snapshot.PutSettings{
		Name:           *name,
		FollowSymlinks: *followSymlinks,
		Raw:            *raw,
		CaptureXattrs:  *captureXattrs,
	}

	ctx := context.Background()
	id, logical, stored, err := snapshot.Put(ctx, repo, roots, settings, warnToStderr)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", id)
	fmt.Printf("logical bytes: %d\n", logical)
	fmt.Printf("stored bytes:  %d\n", stored)
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	repoURL := fs.String("R", "", "repository URL (defaults to REKORD_REPOSITORY)")
	flat := fs.Bool("flat", false, "restore each root by its base name instead of its full stored path")
	dest := fs.String("O", "", "destination directory or file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("get: exactly one <oid> is required")
	}
	if *dest == "" {
		return fmt.Errorf("get: -O <dest> is required")
	}

	id, err := oid.Parse(fs.Arg(0))
	if err != nil {
		return rekord.NewError("rekord get", rekord.KindConfig, err)
	}

	repo, err := openRepo(*repoURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := context.Background()
	n, err := snapshot.Get(ctx, repo, id, snapshot.GetSettings{Flat: *flat}, *dest, warnToStderr)
	if err != nil {
		return err
	}

	fmt.Printf("restored %d bytes to %s\n", n, *dest)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	repoURL := fs.String("R", "", "repository URL (defaults to REKORD_REPOSITORY)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	repo, err := openRepo(*repoURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	infos, err := snapshot.List(context.Background(), repo, warnToStderr)
	if err != nil {
		return err
	}

	for _, info := range infos {
		fmt.Printf("%s  %s  %-20s  logical=%d stored=%d\n",
			info.OID, info.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), info.Name, info.LogicalBytes, info.StoredBytes)
	}
	return nil
}

func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	repoURL := fs.String("R", "", "repository URL (defaults to REKORD_REPOSITORY)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("diff: <old-oid> <new-oid> are both required")
	}

	oldID, err := oid.Parse(fs.Arg(0))
	if err != nil {
		return rekord.NewError("rekord diff", rekord.KindConfig, err)
	}
	newID, err := oid.Parse(fs.Arg(1))
	if err != nil {
		return rekord.NewError("rekord diff", rekord.KindConfig, err)
	}

	repo, err := openRepo(*repoURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	diff, err := snapshot.DiffSnapshots(context.Background(), repo, oldID, newID)
	if err != nil {
		return err
	}

	for _, p := range diff.Added {
		fmt.Printf("+ %s\n", p)
	}
	for _, p := range diff.Removed {
		fmt.Printf("- %s\n", p)
	}
	for _, p := range diff.Modified {
		fmt.Printf("~ %s\n", p)
	}
	if diff.IsEmpty() {
		fmt.Println("no changes")
	}
	return nil
}

// openRepo loads config from the environment (repoURL overrides
// REKORD_REPOSITORY) and unlocks it with REKORD_PASSWORD, prompting on
// the terminal when that variable is unset.
func openRepo(repoURL string) (*repository.Repository, error) {
	cfg, err := config.Load(repoURL)
	if err != nil {
		return nil, err
	}

	password := cfg.Password
	if password == "" {
		password, err = promptPassword("repository password: ")
		if err != nil {
			return nil, rekord.NewError("rekord", rekord.KindConfig, err)
		}
	}

	return repository.Open(context.Background(), cfg, password)
}

// promptPassword reads a password from the terminal without echoing it,
// mirroring original_source's FileIsVt100/Prompt gate: only attempt the
// no-echo read when stderr is actually a terminal, otherwise fall back
// to a plain line read so piped/scripted input still works.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		line, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(line), nil
	}

	var line string
	if _, err := fmt.Scanln(&line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func randomPassword() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", buf), nil
}

func warnToStderr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}
