// Command scopectl runs maintenance tasks against a scopeserve data root.
//
//	scopectl index -config scopeserve.toml     build and persist every search index
//	scopectl sweep -config scopeserve.toml     remove expired sessions
//	scopectl sessions -config scopeserve.toml  issue a new session id
//	scopectl list -config scopeserve.toml      list the global datasets
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/scopeserve"
	"github.com/hupe1980/scopeserve/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: scopectl <index|sweep|sessions|list> -config <file>")

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "index":
		return withServer(ctx, "index", args[1:], func(srv *scopeserve.Server) error {
			n, err := srv.Reindex(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "indexed %d datasets\n", n)
			return nil
		})
	case "sweep":
		return withServer(ctx, "sweep", args[1:], func(srv *scopeserve.Server) error {
			removed, err := srv.SweepSessions(ctx)
			for _, id := range removed {
				fmt.Fprintln(out, id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "removed %d sessions\n", len(removed))
			return nil
		})
	case "sessions":
		return withServer(ctx, "sessions", args[1:], func(srv *scopeserve.Server) error {
			id, err := srv.IssueSession(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, id)
			return nil
		})
	case "list":
		return withServer(ctx, "list", args[1:], func(srv *scopeserve.Server) error {
			return list(ctx, srv, out)
		})
	default:
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}
}

func withServer(ctx context.Context, name string, args []string, fn func(*scopeserve.Server) error) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "scopeserve.toml", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	srv, err := scopeserve.New(cfg.Root, opts...)
	if err != nil {
		return err
	}
	return errors.Join(fn(srv), srv.Close())
}

// list uses the first permanent session, which sees every global dataset.
func list(ctx context.Context, srv *scopeserve.Server, out io.Writer) error {
	perm := srv.Sessions().Permanent()
	if len(perm) == 0 {
		return errors.New("no permanent session")
	}
	infos, err := srv.ListDatasets(ctx, perm[0])
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tTITLE\tSPECIES\tGENES\tCELLS\tSIZE")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			info.Path, info.Title, info.Species, info.Genes, info.Cells, humanize.Bytes(uint64(info.Size)))
	}
	return tw.Flush()
}
