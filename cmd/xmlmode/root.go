package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gobeaver/xmlmode"
	_ "github.com/gobeaver/xmlmode/driver/azure"
	_ "github.com/gobeaver/xmlmode/driver/gcs"
	"github.com/gobeaver/xmlmode/driver/local"
	_ "github.com/gobeaver/xmlmode/driver/s3"
	_ "github.com/gobeaver/xmlmode/driver/sftp"
	"github.com/gobeaver/xmlmode/driver/zip"
)

// errDetectionFailed is returned when at least one document could not be
// resolved; the failures themselves are already printed.
var errDetectionFailed = errors.New("detection failed")

const defaultPattern = "**.xml"

type cli struct {
	stdout io.Writer
	stderr io.Writer

	driver   string
	root     string
	zipPath  string
	mounts   []string
	encoding string
	mode     string
	noCache  bool
	verbose  bool

	logger *zap.Logger
	source xmlmode.Source
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "xmlmode",
		Short: "Detect whether XML documents use DTD or XML Schema validation",
		Long: `xmlmode scans XML documents for a DOCTYPE declaration ahead of the first
element and reports the validation mode a parser should use:

  dtd   a DOCTYPE declaration was found
  xsd   the first element came without a DOCTYPE
  auto  the document could not be decoded; let the parser decide

Settings are read from BEAVER_XMLMODE_* environment variables; flags win.
Remote drivers (s3, gcs, azure, sftp) take their connection settings from
the environment only.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.logger = newLogger(c.stderr, c.verbose)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.driver, "driver", "", "source driver: "+strings.Join(xmlmode.Drivers(), ", ")+" (default $BEAVER_XMLMODE_DRIVER or local)")
	flags.StringVar(&c.root, "root", "", "directory documents are read from (default $BEAVER_XMLMODE_LOCAL_BASE_PATH or .)")
	flags.StringVar(&c.zipPath, "zip", "", "read documents from this ZIP archive instead of a directory")
	flags.StringArrayVar(&c.mounts, "mount", nil, "mount a directory or archive as name=path; repeatable, replaces --root and --zip")
	flags.StringVar(&c.encoding, "encoding", "", "character encoding of documents (default UTF-8)")
	flags.StringVar(&c.mode, "mode", "", "configured validation mode: auto, none, dtd or xsd")
	flags.BoolVar(&c.noCache, "no-cache", false, "disable the detection cache")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(c.detectCmd(), c.scanCmd(), c.watchCmd())
	return rootCmd
}

func (c *cli) detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <file>...",
		Short: "Detect the validation mode of each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.resolver(cmd)
			defer c.closeSource()
			if err != nil {
				return err
			}

			failed := false
			for _, arg := range args {
				path := c.sourcePath(arg)
				mode, err := r.ModeFor(cmd.Context(), path)
				if err != nil {
					failed = true
					_, _ = fmt.Fprintf(c.stderr, "%s: error: %v\n", arg, err)
					continue
				}
				if _, err := fmt.Fprintf(c.stdout, "%s: %s\n", arg, mode); err != nil {
					return err
				}
			}
			if failed {
				return errDetectionFailed
			}
			return nil
		},
	}
}

// scanFlags select the documents scan and watch visit.
type scanFlags struct {
	pattern  string
	maxDepth int
	skip     []string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.pattern, "pattern", "p", defaultPattern, "glob selecting documents, relative to dir ('*' stops at '/', '**' does not)")
	flags.IntVar(&f.maxDepth, "max-depth", 0, "only visit documents at most this many levels below dir (0 means no limit)")
	flags.StringSliceVar(&f.skip, "skip", nil, "directory names never descended into, e.g. target,.git")
}

func (f *scanFlags) selector(dir string) (xmlmode.Selector, error) {
	sel, err := xmlmode.Glob(f.pattern, dir)
	if err != nil {
		return nil, err
	}
	selectors := []xmlmode.Selector{sel}
	if f.maxDepth > 0 {
		selectors = append(selectors, xmlmode.Depth(f.maxDepth, dir))
	}
	if len(f.skip) > 0 {
		selectors = append(selectors, xmlmode.Skip(f.skip...))
	}
	return xmlmode.And(selectors...), nil
}

func (c *cli) scanCmd() *cobra.Command {
	var sf scanFlags
	cmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Detect the validation mode of every matching document under dir",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.resolver(cmd)
			defer c.closeSource()
			if err != nil {
				return err
			}
			dir := dirArg(args)
			sel, err := sf.selector(dir)
			if err != nil {
				return err
			}
			return c.scan(cmd.Context(), r, dir, sel)
		},
	}
	sf.register(cmd)
	return cmd
}

func (c *cli) watchCmd() *cobra.Command {
	var sf scanFlags
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Scan, then scan again whenever a matching document changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.resolver(cmd)
			defer c.closeSource()
			if err != nil {
				return err
			}
			watcher, ok := r.Source().(xmlmode.CanWatch)
			if !ok {
				return fmt.Errorf("%w: source cannot watch for changes", xmlmode.ErrNotSupported)
			}

			ctx := cmd.Context()
			dir := dirArg(args)
			sel, err := sf.selector(dir)
			if err != nil {
				return err
			}
			rescan := func() {
				if err := c.scan(ctx, r, dir, sel); err != nil && !errors.Is(err, errDetectionFailed) {
					c.logger.Warn("scan failed", zap.Error(err))
				}
			}
			rescan()

			watchPattern := sf.pattern
			if dir != "" {
				watchPattern = dir + "/" + sf.pattern
			}
			err = xmlmode.OnChange(ctx,
				func(ctx context.Context) (xmlmode.ChangeToken, error) { return watcher.Watch(ctx, watchPattern) },
				func() {
					c.logger.Debug("change detected, rescanning", zap.String("pattern", watchPattern))
					rescan()
				},
			)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	sf.register(cmd)
	return cmd
}

func (c *cli) scan(ctx context.Context, r *xmlmode.Resolver, dir string, sel xmlmode.Selector) error {
	results, err := r.DetectSelected(ctx, dir, sel)
	if err != nil {
		return err
	}

	failed := false
	for _, res := range results {
		if res.Err != nil {
			failed = true
			_, _ = fmt.Fprintf(c.stderr, "%s: error: %v\n", res.Path, res.Err)
			continue
		}
		if _, err := fmt.Fprintf(c.stdout, "%s: %s\n", res.Path, res.Mode); err != nil {
			return err
		}
	}
	if failed {
		return errDetectionFailed
	}
	return nil
}

// resolver builds a resolver from the environment, overridden by flags.
func (c *cli) resolver(cmd *cobra.Command) (*xmlmode.Resolver, error) {
	cfg, err := xmlmode.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Driver = c.driver
	}
	if flags.Changed("root") {
		cfg.LocalBasePath = c.root
		cfg.Driver = "local"
	}
	if flags.Changed("zip") {
		cfg.ZipPath = c.zipPath
		cfg.Driver = "zip"
	}
	if flags.Changed("encoding") {
		cfg.Encoding = c.encoding
	}
	if flags.Changed("mode") {
		cfg.ValidationMode = c.mode
	}
	if c.noCache {
		cfg.CacheEnabled = false
	}
	if c.root == "" {
		c.root = cfg.LocalBasePath
	}

	if len(c.mounts) > 0 {
		return c.mountResolver(cfg)
	}

	r, err := xmlmode.New(cfg, xmlmode.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	c.source = r.Source()
	return r, nil
}

// mountResolver builds a resolver over the --mount sources. A mounted
// regular file is opened as an archive, a directory as a local source.
func (c *cli) mountResolver(cfg *xmlmode.Config) (*xmlmode.Resolver, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mounts := xmlmode.NewMountSource()
	c.source = mounts
	for _, spec := range c.mounts {
		name, target, ok := strings.Cut(spec, "=")
		if !ok || name == "" || target == "" {
			return nil, fmt.Errorf("invalid mount %q: want name=path", spec)
		}

		info, err := os.Stat(target)
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", name, err)
		}
		var src xmlmode.Source
		if info.IsDir() {
			src, err = local.New(target)
		} else {
			src, err = zip.Open(target)
		}
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", name, err)
		}
		if err := mounts.Mount(name, src); err != nil {
			if closer, ok := src.(io.Closer); ok {
				_ = closer.Close()
			}
			return nil, err
		}
		c.logger.Debug("mounted source", zap.String("name", name), zap.String("path", target))
	}

	return xmlmode.NewResolver(mounts, append(opts, xmlmode.WithLogger(c.logger))...)
}

// closeSource releases sources holding open files, such as archives.
func (c *cli) closeSource() {
	if closer, ok := c.source.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("closing source", zap.Error(err))
		}
	}
}

// sourcePath maps a command-line path onto the source. Absolute paths are
// made relative to --root; paths inside an archive or mount are used as
// given.
func (c *cli) sourcePath(arg string) string {
	if c.zipPath != "" || len(c.mounts) > 0 || !filepath.IsAbs(arg) {
		return filepath.ToSlash(arg)
	}
	absRoot, err := filepath.Abs(c.root)
	if err != nil {
		return arg
	}
	rel, err := filepath.Rel(absRoot, arg)
	if err != nil {
		return arg
	}
	return filepath.ToSlash(rel)
}

func dirArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	dir := path.Clean(filepath.ToSlash(args[0]))
	if dir == "." {
		return ""
	}
	return dir
}

func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), level)
	return zap.New(core)
}
