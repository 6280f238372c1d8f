// Command meshctl is a small inspector and REPL for Meshanina database
// files: create, insert, look up, and print summary statistics, either as
// one-shot subcommands or interactively.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/meshanina/meshanina"
	"github.com/meshanina/meshanina/internal/config"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage(os.Stderr)

		return errors.New("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch args[0] {
	case "new":
		return cmdNew(args[1:])
	case "put":
		return cmdPut(args[1:])
	case "get":
		return cmdGet(args[1:])
	case "stat":
		return cmdStat(args[1:])
	case "shell":
		return cmdShell(args[1:], cfg)
	case "-h", "--help", "help":
		printUsage(os.Stdout)

		return nil
	default:
		printUsage(os.Stderr)

		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: meshctl <command> [args]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  new <path>              create a new, empty database")
	fmt.Fprintln(out, "  put <path> <value>      hash value, insert, flush")
	fmt.Fprintln(out, "  get <path> <hex-key>    look up a key and print its value")
	fmt.Fprintln(out, "  stat <path>             print header and file size")
	fmt.Fprintln(out, "  shell <path>            interactive REPL")
}

func cmdNew(args []string) error {
	fs := flag.NewFlagSet("new", flag.ContinueOnError)

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return errors.New("usage: meshctl new <path>")
	}

	db, err := meshanina.Open(fs.Arg(0), meshanina.Options{CreateIfMissing: true})
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}

	return db.Close()
}

func cmdPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 2 {
		return errors.New("usage: meshctl put <path> <value>")
	}

	db, err := meshanina.Open(fs.Arg(0), meshanina.Options{CreateIfMissing: true})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	value := []byte(fs.Arg(1))
	key := sha256.Sum256(value)

	if err := db.Insert(key, value); err != nil {
		return fmt.Errorf("inserting: %w", err)
	}

	if err := db.Flush(); err != nil {
		return fmt.Errorf("flushing: %w", err)
	}

	fmt.Printf("%x\n", key)

	return nil
}

func cmdGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 2 {
		return errors.New("usage: meshctl get <path> <hex-key>")
	}

	key, err := parseKey(fs.Arg(1))
	if err != nil {
		return err
	}

	db, err := meshanina.Open(fs.Arg(0), meshanina.Options{})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	value, found, err := db.Get(key)
	if err != nil {
		return fmt.Errorf("looking up key: %w", err)
	}

	if !found {
		return errors.New("key not found")
	}

	fmt.Println(string(value))

	return nil
}

func cmdStat(args []string) error {
	fs := flag.NewFlagSet("stat", flag.ContinueOnError)

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return errors.New("usage: meshctl stat <path>")
	}

	fi, err := os.Stat(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	db, err := meshanina.Open(fs.Arg(0), meshanina.Options{NoLock: true})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	fmt.Printf("path:       %s\n", fs.Arg(0))
	fmt.Printf("file size:  %d bytes\n", fi.Size())
	fmt.Printf("header:     %d bytes\n", meshanina.HeaderSize)

	return nil
}

func parseKey(hexKey string) (meshanina.Key, error) {
	var key meshanina.Key

	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return key, fmt.Errorf("invalid hex key: %w", err)
	}

	if len(b) != len(key) {
		return key, fmt.Errorf("key must be %d bytes (%d hex chars), got %d bytes", len(key), len(key)*2, len(b))
	}

	copy(key[:], b)

	return key, nil
}

func cmdShell(args []string, cfg config.Config) error {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)

	if err := fs.Parse(args); err != nil {
		return err
	}

	path := cfg.DefaultPath
	if fs.NArg() >= 1 {
		path = fs.Arg(0)
	}

	if path == "" {
		return errors.New("usage: meshctl shell <path>")
	}

	db, err := meshanina.Open(path, meshanina.Options{CreateIfMissing: true})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	repl := &shell{db: db}

	return repl.run()
}

type shell struct {
	db *meshanina.DB
}

func (s *shell) run() error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("meshctl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		line.AppendHistory(input)

		if err := s.dispatch(input); err != nil {
			if errors.Is(err, errShellExit) {
				return nil
			}

			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

var errShellExit = errors.New("exit")

func (s *shell) dispatch(line string) error {
	cmd, rest, _ := strings.Cut(line, " ")

	switch cmd {
	case "exit", "quit":
		return errShellExit
	case "help", "":
		fmt.Println("commands: put <value> | get <hex-key> | flush | help | exit")

		return nil
	case "put":
		value := []byte(rest)
		key := sha256.Sum256(value)

		if err := s.db.Insert(key, value); err != nil {
			return err
		}

		fmt.Printf("%x\n", key)

		return nil
	case "get":
		key, err := parseKey(rest)
		if err != nil {
			return err
		}

		value, found, err := s.db.Get(key)
		if err != nil {
			return err
		}

		if !found {
			fmt.Println("(not found)")

			return nil
		}

		fmt.Println(string(value))

		return nil
	case "flush":
		return s.db.Flush()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}
