// Package main implements workflowctl, a CLI for keeping workflow definitions
// in version control.
//
// Usage:
//
//	workflowctl validate workflows/*.yaml
//	workflowctl apply -org org_123 workflows/*.yaml
//	workflowctl apply -org org_123 -dry-run workflows/fire.yaml
//	workflowctl export -org org_123 > workflows.yaml
//
// A workflow file is a YAML stream with one workflow per document, using the
// same field names as the HTTP API. apply and export read DATABASE_URL from
// the environment (or a .env file via godotenv).
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

	"github.com/joho/godotenv"

	"alertflow/internal/db"
	"alertflow/internal/types"
)

// workflowStore is the subset of db.WorkflowRepository the CLI uses.
type workflowStore interface {
	GetByID(ctx context.Context, id, orgID string) (*types.Workflow, error)
	Create(ctx context.Context, wf *types.Workflow) error
	Update(ctx context.Context, wf *types.Workflow) error
	List(ctx context.Context, orgID string, params db.ListWorkflowsParams) ([]*types.Workflow, types.PageInfo, error)
}

// openStore connects to the database. Replaced in tests.
var openStore = func(ctx context.Context) (workflowStore, func(), error) {
	_ = godotenv.Load()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	pool, err := db.NewPool(ctx, db.PoolSettings{URL: url, MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	return db.NewWorkflowRepository(pool), pool.Close, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	var err error
	switch args[0] {
	case "validate":
		err = cmdValidate(args[1:], stdout)
	case "apply":
		err = cmdApply(ctx, args[1:], stdout)
	case "export":
		err = cmdExport(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage:
  workflowctl validate FILE...
  workflowctl apply -org ORG [-dry-run] FILE...
  workflowctl export -org ORG [-active]`)
}

// loadAndValidate reads every file and reports each invalid workflow. It
// fails if any file is unreadable or any workflow is invalid.
func loadAndValidate(paths []string, out io.Writer) ([]workflowDoc, error) {
	if len(paths) == 0 {
		return nil, errors.New("no workflow files given")
	}
	var docs []workflowDoc
	invalid := 0
	seen := make(map[string]string)
	for _, p := range paths {
		fileDocs, err := loadFile(p)
		if err != nil {
			return nil, err
		}
		for _, d := range fileDocs {
			if err := validateDoc(d); err != nil {
				invalid++
				fmt.Fprintf(out, "FAIL %s[%d] %s: %v\n", d.Source, d.Index, d.Flow.Name, err)
				continue
			}
			if prev, dup := seen[d.Flow.ID]; dup {
				invalid++
				fmt.Fprintf(out, "FAIL %s[%d] %s: duplicate id %q (also in %s)\n", d.Source, d.Index, d.Flow.Name, d.Flow.ID, prev)
				continue
			}
			seen[d.Flow.ID] = d.Source
			fmt.Fprintf(out, "ok   %s[%d] %s (%s)\n", d.Source, d.Index, d.Flow.Name, d.Flow.ID)
			docs = append(docs, d)
		}
	}
	if invalid > 0 {
		return nil, fmt.Errorf("%d invalid workflow(s)", invalid)
	}
	return docs, nil
}

func cmdValidate(args []string, out io.Writer) error {
	_, err := loadAndValidate(args, out)
	return err
}

func cmdApply(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	fs.SetOutput(out)
	org := fs.String("org", "", "organization id the workflows belong to")
	dryRun := fs.Bool("dry-run", false, "validate and report, but do not write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *org == "" {
		return errors.New("-org is required")
	}

	docs, err := loadAndValidate(fs.Args(), out)
	if err != nil {
		return err
	}
	if *dryRun {
		fmt.Fprintf(out, "dry run: %d workflow(s) valid, nothing written\n", len(docs))
		return nil
	}

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer closeStore()

	created, updated := 0, 0
	for _, d := range docs {
		wf := d.Flow
		wf.OrganizationID = *org
		_, err := store.GetByID(ctx, wf.ID, *org)
		switch {
		case isNotFound(err):
			if err := store.Create(ctx, wf); err != nil {
				return fmt.Errorf("creating %s: %w", wf.ID, err)
			}
			created++
			fmt.Fprintf(out, "created %s\n", wf.ID)
		case err != nil:
			return fmt.Errorf("loading %s: %w", wf.ID, err)
		default:
			if err := store.Update(ctx, wf); err != nil {
				return fmt.Errorf("updating %s: %w", wf.ID, err)
			}
			updated++
			fmt.Fprintf(out, "updated %s\n", wf.ID)
		}
	}
	fmt.Fprintf(out, "applied %d workflow(s): %d created, %d updated\n", len(docs), created, updated)
	return nil
}

func cmdExport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(out)
	org := fs.String("org", "", "organization id to export")
	activeOnly := fs.Bool("active", false, "export active workflows only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *org == "" {
		return errors.New("-org is required")
	}

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer closeStore()

	var all []*types.Workflow
	params := db.ListWorkflowsParams{ActiveOnly: *activeOnly, Limit: types.MaxPageSize}
	for {
		page, info, err := store.List(ctx, *org, params)
		if err != nil {
			return fmt.Errorf("listing workflows: %w", err)
		}
		all = append(all, page...)
		if !info.HasMore || info.NextCursor == "" {
			break
		}
		params.Cursor = info.NextCursor
	}
	return encodeWorkflows(out, all)
}

func isNotFound(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundWorkflow
}
