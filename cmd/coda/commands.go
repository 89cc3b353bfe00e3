package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/tags"
	httpapi "asisaid.cn/coda/pkg/api/http"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the store configuration and connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := a.tags.Status(cmd.Context())
			out := cmd.ErrOrStderr()

			fmt.Fprintln(out, "\nDatabase configuration:")
			keys := make([]string, 0, len(st.Options))
			for k := range st.Options {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "    %s: %v\n", k, st.Options[k])
			}

			fmt.Fprint(out, "\nTesting connection ... ")
			if !st.Connected {
				color.New(color.FgRed).Fprintln(out, "could not connect!")
				fmt.Fprintf(out, "    %s\n\n", st.Error)
				return nil
			}
			color.New(color.FgGreen).Fprintln(out, "good to go!")
			fmt.Fprintf(out, "    %d tracked files\n\n", st.Tracked)
			return nil
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [path]",
		Short: "List tracked files under a directory, or the tags of one file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			out := cmd.OutOrStdout()

			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				f, err := a.tags.Describe(cmd.Context(), path)
				if errors.IsNotFound(err) {
					fmt.Fprintf(out, "No metadata found for %s\n", filepath.Base(path))
					return nil
				}
				if err != nil {
					return err
				}
				return printFile(out, f)
			}

			c, err := a.tags.List(cmd.Context(), path)
			if err != nil {
				return err
			}
			printPaths(out, c)
			return nil
		},
	}
}

func newFindCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find <key> <value>",
		Short: "Find files with a tag value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.tags.Find(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printPaths(cmd.OutOrStdout(), c)
			return nil
		},
	}
}

func newAddCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file|dir>...",
		Short: "Add files to tracking",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.tags.Track(cmd.Context(), args, nil)
			return err
		},
	}
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file|dir>...",
		Short: "Remove files from tracking",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.tags.Untrack(cmd.Context(), args)
			return err
		},
	}
}

func newTagCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <key> <value> <file|dir>...",
		Short: "Tag files with metadata",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.tags.Tag(cmd.Context(), args[2:], args[0], args[1])
			return err
		},
	}
}

func newUntagCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "untag <key> <file|dir>...",
		Short: "Remove a tag from files",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.tags.Untag(cmd.Context(), args[1:], args[0])
			return err
		},
	}
}

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfg := a.cfg.Server
			if addr != "" {
				serverCfg.HTTPAddr = addr
			}

			router := httpapi.NewRouter(a.tags, a.cfg.Logger.Development)
			server := httpapi.NewServer(serverCfg, router)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return httpapi.Serve(ctx, server, serverCfg.ShutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.http_addr)")
	return cmd
}

func printPaths(w io.Writer, c *tags.Collection) {
	if c == nil {
		return
	}
	for f := range c.All() {
		fmt.Fprintln(w, f.Path())
	}
}

func printFile(w io.Writer, f *tags.File) error {
	md := f.Metadata()
	if md.Len() == 0 {
		fmt.Fprintf(w, "No metadata found for %s\n", f.Name())
		return nil
	}
	// Map keys marshal sorted.
	data, err := json.MarshalIndent(md.Map(), "", "    ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, f.Path())
	fmt.Fprintln(w, string(data))
	return nil
}
