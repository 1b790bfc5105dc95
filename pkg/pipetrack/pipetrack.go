// Package pipetrack provides the public Go library API for pipetrack.
//
// pipetrack tracks data pipelines declared as stage files: it records the
// checksums of every dependency and output, caches outputs by content and
// reports what changed since the last commit, in the working tree or in any
// git revision.
//
// # Basic Usage
//
//	client, err := pipetrack.New(ctx, pipetrack.Options{
//	    ProjectRoot: "/path/to/workspace",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record the current outputs of a stage
//	result, err := client.Commit(ctx, []string{"train.stage"}, pipetrack.CommitOptions{})
//
//	// Find stages that need to run again
//	status, err := client.Status(ctx, nil, pipetrack.StatusOptions{})
package pipetrack

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bianoble/pipetrack/internal/config"
	"github.com/bianoble/pipetrack/internal/engine"
	"github.com/bianoble/pipetrack/internal/logging"
	"github.com/bianoble/pipetrack/internal/repo"
)

// Options configures a pipetrack client.
type Options struct {
	// ProjectRoot is a directory inside the workspace. If empty, the
	// workspace holding the current directory is used.
	ProjectRoot string

	// CacheDir overrides cache.dir from the config.
	CacheDir string

	// SystemConfigPath and UserConfigPath override the default config
	// layer locations. Set to a nonexistent path to skip a layer.
	SystemConfigPath string
	UserConfigPath   string

	// NoInherit loads only the project config layer.
	NoInherit bool

	// Logger receives diagnostics. When nil and LogOutput is set, a logger
	// is built from the log section of the config; otherwise diagnostics
	// are discarded.
	Logger    *slog.Logger
	LogOutput io.Writer
	// Debug forces debug-level diagnostics on the built logger.
	Debug bool
	// LogFormat overrides log.format from the config.
	LogFormat string

	// Confirm answers the questions commit and purge ask. Nil refuses
	// every question, so only forced operations change anything.
	Confirm Confirmer
}

// Client is the main entry point for the pipetrack library.
type Client struct {
	repo    *repo.Repo
	cfg     *config.Config
	layers  []config.Layer
	logger  *slog.Logger
	confirm Confirmer
}

// New opens the workspace containing opts.ProjectRoot with its layered
// configuration applied.
func New(ctx context.Context, opts Options) (*Client, error) {
	dir := opts.ProjectRoot
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		dir = wd
	}
	root, err := repo.FindRoot(dir)
	if err != nil {
		return nil, err
	}

	loaded, err := config.LoadHierarchical(config.HierarchicalOptions{
		ProjectPath:      config.ProjectPath(root),
		SystemConfigPath: opts.SystemConfigPath,
		UserConfigPath:   opts.UserConfigPath,
		NoInherit:        opts.NoInherit || config.EnvNoInherit(),
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	logger, err := buildLogger(opts, cfg)
	if err != nil {
		return nil, err
	}
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = cfg.Cache.Dir
	}

	r, err := repo.Open(ctx, root, repo.Options{
		CacheDir: cacheDir,
		State:    cfg.StateEnabled(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		repo:    r,
		cfg:     cfg,
		layers:  loaded.Layers,
		logger:  logger,
		confirm: opts.Confirm,
	}, nil
}

func buildLogger(opts Options, cfg *config.Config) (*slog.Logger, error) {
	if opts.Logger != nil {
		return opts.Logger, nil
	}
	if opts.LogOutput == nil {
		return logging.Discard(), nil
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if opts.Debug {
		level = slog.LevelDebug
	}
	format := cfg.Log.Format
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	return logging.New(level, format, opts.LogOutput), nil
}

// Close releases the checksum memo.
func (c *Client) Close() error {
	return c.repo.Close()
}

// Root returns the workspace root.
func (c *Client) Root() string {
	return c.repo.Root
}

// Config returns the merged configuration.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Commit records the current state of the targets.
func (c *Client) Commit(ctx context.Context, targets []string, opts CommitOptions) (*CommitResult, error) {
	eng := &engine.CommitEngine{
		Repo:    c.repo,
		Confirm: c.confirm,
		Jobs:    c.cfg.Core.Jobs,
		Logger:  c.logger,
	}
	return eng.Commit(ctx, targets, opts)
}

// Remove deletes the outputs of the targets, or purges the stages entirely.
func (c *Client) Remove(ctx context.Context, targets []string, opts RemoveOptions) (*RemoveResult, error) {
	eng := &engine.RemoveEngine{
		Repo:    c.repo,
		Confirm: c.confirm,
		Logger:  c.logger,
	}
	return eng.Remove(ctx, targets, opts)
}

// Checkout restores cached outputs of the targets.
func (c *Client) Checkout(ctx context.Context, targets []string, opts CheckoutOptions) (*CheckoutResult, error) {
	eng := &engine.CheckoutEngine{
		Repo:   c.repo,
		Jobs:   c.cfg.Core.Jobs,
		Logger: c.logger,
	}
	return eng.Checkout(ctx, targets, opts)
}

// Status reports the targets that changed in the working tree.
func (c *Client) Status(ctx context.Context, targets []string, opts StatusOptions) (*StatusResult, error) {
	return c.statusEngine().Status(ctx, targets, opts)
}

// StatusRevisions computes Status once per revision selected by branch:
// the working tree first, then every distinct commit.
func (c *Client) StatusRevisions(ctx context.Context, targets []string, opts StatusOptions, branch BranchOptions) ([]*StatusResult, error) {
	eng := c.statusEngine()
	var results []*StatusResult
	err := c.repo.Brancher(ctx, branch, func(ctx context.Context, rev string) error {
		res, err := eng.Status(ctx, targets, opts)
		if err != nil {
			return err
		}
		if rev != "" {
			res.View = rev
		}
		results = append(results, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) statusEngine() *engine.StatusEngine {
	return &engine.StatusEngine{
		Repo:   c.repo,
		Jobs:   c.cfg.Core.Jobs,
		Logger: c.logger,
	}
}

// Pipeline lists target and its dependencies, producers first.
func (c *Client) Pipeline(target string, opts ShowOptions) ([]string, error) {
	return (&engine.PipelineEngine{Repo: c.repo}).Show(target, opts)
}

// PipelineTree renders target and its dependencies as a tree.
func (c *Client) PipelineTree(target string, mode ViewMode) (string, error) {
	return (&engine.PipelineEngine{Repo: c.repo}).Tree(target, mode)
}

// PipelineView returns the nodes and edges of the pipeline part target
// depends on, for external renderers.
func (c *Client) PipelineView(target string, mode ViewMode) (View, error) {
	return (&engine.PipelineEngine{Repo: c.repo}).View(target, mode)
}

// Pipelines lists every pipeline as the addresses of its stages.
func (c *Client) Pipelines() ([][]string, error) {
	return (&engine.PipelineEngine{Repo: c.repo}).List()
}

// Info describes the workspace.
func (c *Client) Info(version string) (*InfoResult, error) {
	chain := make([]engine.ConfigLayerStatus, 0, len(c.layers))
	for _, l := range c.layers {
		chain = append(chain, engine.ConfigLayerStatus{
			Level:  string(l.Level),
			Path:   l.Path,
			Loaded: l.Loaded,
		})
	}
	return engine.Info(version, c.repo, chain)
}
