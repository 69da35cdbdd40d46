// cmd/client is the CLI entry-point built with Cobra.
//
// Usage:
//
//	configctl push acme widgets --summary "add file" --author me a.txt=hello
//	configctl get acme widgets /a.txt
//	configctl watch acme widgets --last-known 3 --path /a.txt
//	configctl status --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"distributed-configstore/internal/client"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/lagclient"
)

var (
	serverAddr string
	timeout    time.Duration
	maxRetries int
)

func main() {
	root := &cobra.Command{
		Use:   "configctl",
		Short: "CLI client for the distributed config repository",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "replica address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")
	root.PersistentFlags().IntVar(&maxRetries, "max-retries", 3,
		"lag-tolerant proxy retry budget for RevisionNotFound")

	root.AddCommand(projectCmd(), repoCmd(), pushCmd(), getCmd(), historyCmd(), watchCmd(), quotaCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func proxy() (*lagclient.Proxy, error) {
	return lagclient.New(client.New(serverAddr, timeout), lagclient.Config{MaxRetries: maxRetries})
}

// ─── project / repo lifecycle ───────────────────────────────────────────────

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(
		lifecycleSubcommand("create", "<project>", 1, func(ctx context.Context, p *lagclient.Proxy, args []string) error {
			return p.CreateProject(ctx, args[0])
		}),
		lifecycleSubcommand("remove", "<project>", 1, func(ctx context.Context, p *lagclient.Proxy, args []string) error {
			return p.RemoveProject(ctx, args[0])
		}),
		lifecycleSubcommand("purge", "<project>", 1, func(ctx context.Context, p *lagclient.Proxy, args []string) error {
			return p.PurgeProject(ctx, args[0])
		}),
		lifecycleSubcommand("unremove", "<project>", 1, func(ctx context.Context, p *lagclient.Proxy, args []string) error {
			return p.UnremoveProject(ctx, args[0])
		}),
	)
	return cmd
}

func repoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "repo", Short: "Manage repositories"}
	cmd.AddCommand(
		lifecycleSubcommand("create", "<project> <repo>", 2, func(ctx context.Context, p *lagclient.Proxy, args []string) error {
			return p.CreateRepository(ctx, args[0], args[1])
		}),
		lifecycleSubcommand("remove", "<project> <repo>", 2, func(ctx context.Context, p *lagclient.Proxy, args []string) error {
			return p.RemoveRepository(ctx, args[0], args[1])
		}),
		lifecycleSubcommand("purge", "<project> <repo>", 2, func(ctx context.Context, p *lagclient.Proxy, args []string) error {
			return p.PurgeRepository(ctx, args[0], args[1])
		}),
		lifecycleSubcommand("unremove", "<project> <repo>", 2, func(ctx context.Context, p *lagclient.Proxy, args []string) error {
			return p.UnremoveRepository(ctx, args[0], args[1])
		}),
	)
	return cmd
}

func lifecycleSubcommand(name, use string, nargs int, fn func(context.Context, *lagclient.Proxy, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " " + use,
		Short: name + " " + use,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := proxy()
			if err != nil {
				return err
			}
			return fn(cmd.Context(), p, args)
		},
	}
}

// ─── push ─────────────────────────────────────────────────────────────────

func pushCmd() *cobra.Command {
	var summary, detail, author string
	c := &cobra.Command{
		Use:   "push <project> <repo> <path=content>...",
		Short: "Commit one or more file changes",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, repo, changeArgs := args[0], args[1], args[2:]
			changes := make([]command.Change, 0, len(changeArgs))
			for _, a := range changeArgs {
				parts := strings.SplitN(a, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid change %q: expected path=content", a)
				}
				changes = append(changes, command.Change{
					Type: command.ChangeUpsertText, Path: parts[0], Content: parts[1],
				})
			}
			p, err := proxy()
			if err != nil {
				return err
			}
			resp, err := p.Push(cmd.Context(), project, repo, client.PushRequest{
				Author:  command.Author{Name: author},
				Summary: summary,
				Detail:  detail,
				Changes: changes,
			})
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	c.Flags().StringVar(&summary, "summary", "", "commit summary")
	c.Flags().StringVar(&detail, "detail", "", "commit detail")
	c.Flags().StringVar(&author, "author", "configctl", "commit author name")
	return c
}

// ─── get ──────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	var revision int64
	var jsonPath string
	c := &cobra.Command{
		Use:   "get <project> <repo> <path>",
		Short: "Read a file's content at a revision",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := proxy()
			if err != nil {
				return err
			}
			rev := command.Head
			if revision != 0 {
				rev = command.NewRevision(int32(revision))
			}
			resp, err := p.Query(cmd.Context(), args[0], args[1], rev, args[2], jsonPath)
			if err != nil {
				return err
			}
			if resp.Kind == "JSON" {
				prettyPrint(resp.JSON)
			} else {
				fmt.Println(resp.Value)
			}
			return nil
		},
	}
	c.Flags().Int64Var(&revision, "revision", 0, "revision to read (default: head)")
	c.Flags().StringVar(&jsonPath, "json-path", "", "JSON path to evaluate against the file's content")
	return c
}

// ─── history ──────────────────────────────────────────────────────────────

func historyCmd() *cobra.Command {
	var from, to int64
	var pathPattern string
	c := &cobra.Command{
		Use:   "history <project> <repo>",
		Short: "List commits in a revision range",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := proxy()
			if err != nil {
				return err
			}
			fromRev := command.Init
			if from != 0 {
				fromRev = command.NewRevision(int32(from))
			}
			toRev := command.Head
			if to != 0 {
				toRev = command.NewRevision(int32(to))
			}
			resp, err := p.History(cmd.Context(), args[0], args[1], fromRev, toRev, pathPattern)
			if err != nil {
				return err
			}
			prettyPrint(resp.Commits)
			return nil
		},
	}
	c.Flags().Int64Var(&from, "from", 0, "start revision, exclusive (default: init)")
	c.Flags().Int64Var(&to, "to", 0, "end revision, inclusive (default: head)")
	c.Flags().StringVar(&pathPattern, "path", "/**", "path pattern to filter commits by")
	return c
}

// ─── watch ────────────────────────────────────────────────────────────────

func watchCmd() *cobra.Command {
	var lastKnown int64
	var pathPattern string
	c := &cobra.Command{
		Use:   "watch <project> <repo>",
		Short: "Block until a commit matching --path lands after --last-known",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := proxy()
			if err != nil {
				return err
			}
			known := command.Init
			if lastKnown != 0 {
				known = command.NewRevision(int32(lastKnown))
			}
			resp, err := p.Watch(cmd.Context(), args[0], args[1], known, pathPattern)
			if err != nil {
				return err
			}
			if resp.Revision == nil {
				fmt.Println("no matching commit")
				return nil
			}
			fmt.Printf("revision %d\n", resp.Revision.Major)
			return nil
		},
	}
	c.Flags().Int64Var(&lastKnown, "last-known", 0, "last known revision (default: init)")
	c.Flags().StringVar(&pathPattern, "path", "/**", "path pattern to watch")
	return c
}

// ─── quota ────────────────────────────────────────────────────────────────

func quotaCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "quota <project> <repo> <requestQuota> <timeWindowSeconds>",
		Short: "Set a repository's write quota",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			quota, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}
			window, err := strconv.Atoi(args[3])
			if err != nil {
				return err
			}
			p, err := proxy()
			if err != nil {
				return err
			}
			return p.SetWriteQuota(cmd.Context(), args[0], args[1], client.QuotaRequest{
				RequestQuota: quota, TimeWindowSeconds: window,
			})
		},
	}
	return c
}

// ─── status ───────────────────────────────────────────────────────────────

func statusCmd() *cobra.Command {
	var writable bool
	c := &cobra.Command{
		Use:   "status",
		Short: "Push a server status update (leader use only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := proxy()
			if err != nil {
				return err
			}
			return p.UpdateStatus(cmd.Context(), command.ServerStatus{Writable: writable})
		},
	}
	c.Flags().BoolVar(&writable, "writable", true, "whether the cluster should accept writes")
	return c
}

// ─── helpers ──────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
