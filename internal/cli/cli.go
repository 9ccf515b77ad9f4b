// Package cli parses command lines for lumend and lumenctl and renders
// lumenctl output.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/report"
)

// ServerArgs are the lumend flags.
type ServerArgs struct {
	ConfigPath string
	ListenAddr string
	LogLevel   string

	// Concurrency overrides worker.concurrency; 0 keeps the config value.
	Concurrency int

	RawArgs []string
}

// ParseServerArgs parses lumend flags. It never reads os.Args.
func ParseServerArgs(args []string) (*ServerArgs, error) {
	fs := flag.NewFlagSet("lumend", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath  = fs.String("config", "lumen.yaml", "Path to the YAML config file")
		listen      = fs.String("listen", "", "Listen address, overrides server.listen_addr")
		logLevel    = fs.String("log-level", "", "debug|info|warn|error")
		concurrency = fs.Int("concurrency", 0, "Worker count (0=use config)")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *concurrency < 0 {
		return nil, errors.New("-concurrency must not be negative")
	}
	return &ServerArgs{
		ConfigPath:  *configPath,
		ListenAddr:  *listen,
		LogLevel:    *logLevel,
		Concurrency: *concurrency,
		RawArgs:     args,
	}, nil
}

// Command is a lumenctl subcommand.
type Command string

const (
	CmdSubmit  Command = "submit"
	CmdStatus  Command = "status"
	CmdWatch   Command = "watch"
	CmdList    Command = "list"
	CmdStats   Command = "stats"
	CmdDelete  Command = "delete"
	CmdRescan  Command = "rescan"
	CmdRequeue Command = "requeue"
	CmdDiff    Command = "diff"
	CmdReport  Command = "report"
	CmdQueue   Command = "queue"
)

// positional is the number of positional arguments each command takes.
var positional = map[Command]int{
	CmdSubmit:  1,
	CmdStatus:  1,
	CmdWatch:   0,
	CmdList:    0,
	CmdStats:   0,
	CmdDelete:  1,
	CmdRescan:  1,
	CmdRequeue: 1,
	CmdDiff:    2,
	CmdReport:  1,
	CmdQueue:   0,
}

// ClientArgs are the lumenctl flags and positional arguments.
type ClientArgs struct {
	Command    Command
	ConfigPath string
	ServerURL  string
	UserID     string
	StateFile  string

	// URL is the submit target; ScanID the subject of single-scan commands.
	URL    string
	ScanID string
	BaseID string

	Priority int
	Status   model.Status
	Page     int
	Limit    int
	Format   report.Format
	Output   string

	// NoWait makes submit and rescan return without tracking the scan.
	NoWait bool

	Verbose bool

	RawArgs []string
}

// Usage is the lumenctl help text.
const Usage = `usage: lumenctl [flags] <command> [args]

commands:
  submit <url>          create a scan and track it until it finishes
  status <scan-id>      show one scan
  watch                 resume tracking scans left by earlier runs
  list                  list scans (-status, -page, -limit)
  stats                 scan counts by status
  delete <scan-id>      delete a scan and its artifacts
  rescan <scan-id>      scan the same url again under a new id
  requeue <scan-id>     queue a pending scan again
  diff <base> <head>    compare two completed scans
  report <scan-id>      download a report (-format md|pdf|json, -o file)
  queue                 queue statistics
`

// ParseClientArgs parses a lumenctl command line. Flags come before the
// command name.
func ParseClientArgs(args []string) (*ClientArgs, error) {
	fs := flag.NewFlagSet("lumenctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath = fs.String("config", "lumen.yaml", "Path to the YAML config file")
		server     = fs.String("server", "", "lumend base URL, overrides client.server_url")
		user       = fs.String("user", "", "User id for submit, list and stats")
		stateFile  = fs.String("state", "", "File that keeps tracked scans between runs")
		priority   = fs.Int("priority", 0, "Job priority, higher runs first")
		status     = fs.String("status", "", "Filter list by status")
		page       = fs.Int("page", 1, "Page number for list")
		limit      = fs.Int("limit", 0, "Page size for list (0=server default)")
		format     = fs.String("format", "md", "Report format: md|pdf|json")
		output     = fs.String("o", "", "Write the report to this file instead of stdout")
		noWait     = fs.Bool("no-wait", false, "Do not track submitted scans")
		verbose    = fs.Bool("v", false, "Log client and poller activity to stderr")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return nil, errors.New("missing command")
	}

	cmd := Command(strings.ToLower(rest[0]))
	want, ok := positional[cmd]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", rest[0])
	}
	rest = rest[1:]
	if len(rest) != want {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", cmd, want, len(rest))
	}

	out := &ClientArgs{
		Command:    cmd,
		ConfigPath: *configPath,
		ServerURL:  *server,
		UserID:     *user,
		StateFile:  *stateFile,
		Priority:   *priority,
		Page:       *page,
		Limit:      *limit,
		Output:     *output,
		NoWait:     *noWait,
		Verbose:    *verbose,
		RawArgs:    args,
	}
	if *status != "" {
		st, err := model.ParseStatus(*status)
		if err != nil {
			return nil, err
		}
		out.Status = st
	}
	f, err := report.ParseFormat(*format)
	if err != nil {
		return nil, err
	}
	out.Format = f

	switch cmd {
	case CmdSubmit:
		out.URL = rest[0]
	case CmdDiff:
		out.BaseID, out.ScanID = rest[0], rest[1]
	default:
		if want == 1 {
			out.ScanID = rest[0]
		}
	}
	return out, nil
}
