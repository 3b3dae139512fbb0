package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/NamanBalaji/rdm/internal/dispatcher"
	"github.com/NamanBalaji/rdm/internal/progress"
	"github.com/NamanBalaji/rdm/internal/request"
	httpPkg "github.com/NamanBalaji/rdm/pkg/http"
)

var errNameWithManyURLs = errors.New("--name can only be used with a single URL")

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Aliases:   []string{"g"},
		Usage:     "Download one or more `URL`s, resuming earlier progress",
		ArgsUsage: "URL [URL...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Save files into `DIR`",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"o"},
				Usage:   "Save the file as `NAME`",
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "Extra request header `\"Name: value\"`",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Do not draw progress bars",
			},
		},
		Action: getAction,
	}
}

func getAction(c *cli.Context) error {
	e := envFrom(c)

	urls := c.Args().Slice()
	if len(urls) == 0 {
		return cli.ShowCommandHelp(c, "get")
	}

	if c.String("name") != "" && len(urls) > 1 {
		return errNameWithManyURLs
	}

	headers, err := parseHeaders(c.StringSlice("header"))
	if err != nil {
		return err
	}

	dir := c.String("dir")
	if dir == "" {
		dir = e.cfg.DownloadDir
	}

	reqs := make([]*request.Request, 0, len(urls))

	for _, u := range urls {
		name := c.String("name")
		if name == "" {
			name = httpPkg.FilenameFromURL(u)
		}

		opts := []request.Option{request.WithHeaders(headers)}
		if !c.Bool("quiet") {
			opts = append(opts, request.WithListener(newBarListener(c.App.ErrWriter, name)))
		}

		req, err := request.New(u, dir, name, opts...)
		if err != nil {
			return err
		}

		reqs = append(reqs, req)
	}

	store, err := openStore(e.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	d := newDispatcher(e.cfg, store)

	ctx, stop := notifyContext(c.Context)
	defer stop()

	var g errgroup.Group

	for _, req := range reqs {
		req := req
		g.Go(func() error {
			if _, err := d.Submit(req); err != nil {
				return fmt.Errorf("%s: %w", req.URL(), err)
			}

			resp, err := req.Wait(context.Background())
			if err != nil {
				return err
			}

			return report(e, req, resp)
		})
	}

	finished := make(chan error, 1)
	go func() {
		finished <- g.Wait()
	}()

	select {
	case err = <-finished:
	case <-ctx.Done():
		fmt.Fprintln(e.out, "Interrupted, saving progress...")
		shutdown(d)
		err = <-finished
	}

	shutdown(d)

	return err
}

func report(e *env, req *request.Request, resp request.Response) error {
	switch resp.Outcome {
	case request.Successful:
		fmt.Fprintf(e.out, "Saved %s (%s)\n", req.Path(), humanize.Bytes(uint64(req.Downloaded())))
	case request.Paused:
		fmt.Fprintf(e.out, "Paused %s (%s) at %s, run the same command to resume\n",
			req.Filename(), req.ID(), humanize.Bytes(uint64(req.Downloaded())))
	case request.Cancelled:
		fmt.Fprintf(e.out, "Cancelled %s\n", req.Filename())
	case request.Failed:
		return fmt.Errorf("%s: %w", req.URL(), resp.Err)
	}

	return nil
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List unfinished downloads with saved progress",
		Action: func(c *cli.Context) error {
			e := envFrom(c)

			store, err := openStore(e.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			models, err := store.FindAll()
			if err != nil {
				return err
			}

			if len(models) == 0 {
				fmt.Fprintln(e.out, "No unfinished downloads")
				return nil
			}

			sort.Slice(models, func(i, j int) bool {
				return models[i].LastModifiedAt.After(models[j].LastModifiedAt)
			})

			w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFILE\tPROGRESS\tUPDATED")

			for _, m := range models {
				p := progress.Progress{Downloaded: m.DownloadedBytes, Total: m.TotalBytes}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Filename, formatProgress(p), humanize.Time(m.LastModifiedAt))
			}

			return w.Flush()
		},
	}
}

func formatProgress(p progress.Progress) string {
	if p.GetTotalSize() <= 0 {
		return humanize.Bytes(uint64(p.GetDownloaded()))
	}

	return fmt.Sprintf("%s / %s (%.1f%%)",
		humanize.Bytes(uint64(p.GetDownloaded())),
		humanize.Bytes(uint64(p.GetTotalSize())),
		p.GetPercentage(),
	)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Aliases:   []string{"s"},
		Usage:     "Show the status of a download",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			e := envFrom(c)

			id, err := parseID(c)
			if err != nil {
				return err
			}

			store, err := openStore(e.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			d := newDispatcher(e.cfg, store)
			defer shutdown(d)

			fmt.Fprintf(e.out, "%s: %s\n", id, d.Status(id))

			if m, err := store.Find(id); err == nil {
				p := progress.Progress{Downloaded: m.DownloadedBytes, Total: m.TotalBytes}
				fmt.Fprintf(e.out, "  url:      %s\n", m.URL)
				fmt.Fprintf(e.out, "  file:     %s\n", request.Path(m.Dir, m.Filename))
				fmt.Fprintf(e.out, "  progress: %s\n", formatProgress(p))
			}

			return nil
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Discard saved progress and the partial file of a download",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			e := envFrom(c)

			id, err := parseID(c)
			if err != nil {
				return err
			}

			store, err := openStore(e.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			d := newDispatcher(e.cfg, store)
			defer shutdown(d)

			if err := d.Remove(id); err != nil {
				if errors.Is(err, dispatcher.ErrRequestNotFound) {
					return fmt.Errorf("no download with id %s", id)
				}

				return err
			}

			fmt.Fprintf(e.out, "Removed %s\n", id)

			return nil
		},
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Discard downloads not touched for a number of days",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "days",
				Usage: "Age in `DAYS` after which a download is discarded (default from config)",
			},
		},
		Action: func(c *cli.Context) error {
			e := envFrom(c)

			olderThan := e.cfg.CleanupAfter
			if c.IsSet("days") {
				olderThan = time.Duration(c.Int("days")) * 24 * time.Hour
			}

			store, err := openStore(e.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			d := newDispatcher(e.cfg, store)
			defer shutdown(d)

			n, err := d.CleanUp(olderThan)
			if err != nil {
				return err
			}

			fmt.Fprintf(e.out, "Removed %d stale downloads\n", n)

			return nil
		},
	}
}

func parseID(c *cli.Context) (uuid.UUID, error) {
	if c.NArg() != 1 {
		return uuid.Nil, errors.New("expected exactly one download id")
	}

	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid download id %q: %w", c.Args().First(), err)
	}

	return id, nil
}
