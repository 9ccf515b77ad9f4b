// Command lumenctl submits scans to lumend and tracks them to completion.
// Tracked scans are persisted, so an interrupted run can be picked up again
// with `lumenctl watch`.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raysh454/lumen/internal/app"
	"github.com/raysh454/lumen/internal/cli"
	"github.com/raysh454/lumen/internal/client"
	"github.com/raysh454/lumen/internal/interfaces"
	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/poller"
)

func main() {
	args, err := cli.ParseClientArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("lumenctl: "+err.Error()))
		fmt.Fprint(os.Stderr, cli.Usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("lumenctl: "+err.Error()))
		os.Exit(1)
	}
}

type ctl struct {
	args   *cli.ClientArgs
	cfg    *app.Config
	api    *client.APIClient
	logger logging.Logger
}

func run(ctx context.Context, args *cli.ClientArgs) error {
	cfg, err := app.LoadConfig(args.ConfigPath)
	if err != nil {
		return err
	}
	if args.ServerURL != "" {
		cfg.Client.ServerURL = args.ServerURL
	}
	if args.StateFile != "" {
		cfg.Client.StateFile = args.StateFile
	}
	if args.UserID != "" {
		cfg.Client.UserID = args.UserID
	}

	logger := interfaces.NewTextLogger(os.Stderr, args.Verbose).With(logging.Field{Key: "component", Value: "lumenctl"})
	api, err := client.New(cfg.Client.ServerURL, nil, logger)
	if err != nil {
		return err
	}
	c := &ctl{args: args, cfg: cfg, api: api, logger: logger}

	switch args.Command {
	case cli.CmdSubmit:
		resp, err := api.Submit(ctx, args.URL, cfg.Client.UserID, args.Priority)
		if err != nil {
			return c.describe(err)
		}
		return c.follow(ctx, resp)
	case cli.CmdRescan:
		resp, err := api.Rescan(ctx, args.ScanID)
		if err != nil {
			return c.describe(err)
		}
		return c.follow(ctx, resp)
	case cli.CmdRequeue:
		resp, err := api.Requeue(ctx, args.ScanID)
		if err != nil {
			return c.describe(err)
		}
		return c.follow(ctx, resp)
	case cli.CmdWatch:
		return c.watch(ctx, "")
	case cli.CmdStatus:
		sc, err := api.GetScan(ctx, args.ScanID)
		if err != nil {
			return err
		}
		fmt.Print(cli.RenderScan(sc))
	case cli.CmdList:
		page, err := api.ListScans(ctx, client.ListOptions{
			UserID: cfg.Client.UserID,
			Status: args.Status,
			Page:   args.Page,
			Limit:  args.Limit,
		})
		if err != nil {
			return err
		}
		fmt.Print(cli.RenderPage(page))
	case cli.CmdStats:
		counts, err := api.Stats(ctx, cfg.Client.UserID)
		if err != nil {
			return err
		}
		fmt.Print(cli.RenderStats(counts))
	case cli.CmdDelete:
		if err := api.Delete(ctx, args.ScanID); err != nil {
			return err
		}
		fmt.Println(cli.SuccessStyle.Render("deleted " + args.ScanID))
	case cli.CmdDiff:
		cmp, err := api.Compare(ctx, args.BaseID, args.ScanID)
		if err != nil {
			return err
		}
		fmt.Print(cli.RenderComparison(cmp))
	case cli.CmdReport:
		data, err := api.Report(ctx, args.ScanID, args.Format)
		if err != nil {
			return err
		}
		if args.Output == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(args.Output, data, 0o644); err != nil {
			return err
		}
		fmt.Println(cli.SuccessStyle.Render("wrote " + args.Output))
	case cli.CmdQueue:
		st, err := api.QueueStats(ctx)
		if err != nil {
			return err
		}
		fmt.Print(cli.RenderQueue(st))
	}
	return nil
}

// describe keeps the scan id of a scan that was stored but not queued, so it
// can be requeued later.
func (c *ctl) describe(err error) error {
	var he *client.HTTPError
	if errors.As(err, &he) && he.ScanID != "" {
		return fmt.Errorf("%w (scan %s was saved; retry with `lumenctl requeue %s`)", err, he.ScanID, he.ScanID)
	}
	return err
}

func (c *ctl) follow(ctx context.Context, resp *client.SubmitResponse) error {
	fmt.Println(cli.SuccessStyle.Render("accepted") + " " + resp.ID + " " + cli.MutedStyle.Render(resp.URL))
	if c.args.NoWait {
		return nil
	}
	return c.watch(ctx, resp.ID)
}

// watch tracks scanID, or every persisted scan when scanID is empty, and
// prints progress until all of them settle.
func (c *ctl) watch(ctx context.Context, scanID string) error {
	states, err := poller.NewFileStateStore(c.cfg.Client.StateFile)
	if err != nil {
		return err
	}
	ctrl, err := poller.NewController(c.cfg.Poller, c.api, states, c.logger)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	pending := 1
	if scanID != "" {
		if err := ctrl.Track(ctx, scanID, scanID); err != nil {
			return err
		}
	} else {
		if pending, err = ctrl.Resume(ctx); err != nil {
			return err
		}
		if pending == 0 {
			fmt.Println(cli.MutedStyle.Render("no scans to watch"))
			return nil
		}
	}

	var failed int
	for {
		select {
		case <-ctx.Done():
			fmt.Println(cli.MutedStyle.Render("\ninterrupted; run `lumenctl watch` to resume"))
			return nil
		case u, ok := <-ctrl.Updates():
			if !ok {
				return nil
			}
			fmt.Println(cli.RenderUpdate(u))
			if !u.State.Terminal() {
				continue
			}
			if u.Scan != nil && u.State == poller.StateCompleted {
				fmt.Print(cli.RenderScan(u.Scan))
			}
			if u.State != poller.StateCompleted {
				failed++
			}
			if pending--; pending == 0 {
				if failed > 0 {
					return fmt.Errorf("%d scan(s) did not complete", failed)
				}
				return nil
			}
		}
	}
}
