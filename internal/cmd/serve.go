package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jra3/domesync/internal/config"
	"github.com/jra3/domesync/internal/logging"
	"github.com/jra3/domesync/internal/middleware"
	"github.com/jra3/domesync/internal/middleware/snapcache"
	"github.com/jra3/domesync/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve [project-path]",
	Short: "Serve a project directory as a live instance tree",
	Long: `serve watches a project directory, maintains a live instance tree
mirroring it, and serves subscribe/read/write/open operations to a
long-polling caller (e.g. an in-editor plugin) until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("vfs", "", "vfs backend override (os or memory)")
	viper.BindPFlag("vfs", serveCmd.Flags().Lookup("vfs"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if backend := viper.GetString("vfs"); backend != "" {
		cfg.VFS.Backend = backend
	}

	projectPath := cfg.ProjectPath
	if len(args) > 0 {
		projectPath = args[0]
	}
	if projectPath == "" {
		return fmt.Errorf("project path required: domesync serve /path/to/default.project.json")
	}

	debug, _ := cmd.Root().PersistentFlags().GetBool("debug")
	logMode := logging.ModeAuto
	if debug {
		logMode = logging.ModeAlways
	}
	log := logging.New("session", logMode)

	fs, projectRelPath, err := buildVFS(cfg, projectPath)
	if err != nil {
		return fmt.Errorf("build vfs: %w", err)
	}

	var cache middleware.RecomputeCache
	if cfg.Cache.Enabled {
		path := cfg.Cache.Path
		if path == "" {
			path = ":memory:"
		}
		c, err := snapcache.Open(path)
		if err != nil {
			return fmt.Errorf("open snapshot cache: %w", err)
		}
		defer c.Close()
		cache = c
	}

	sess, err := session.New(fs, projectRelPath, cfg, cache, log)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Run(ctx)

	info, _ := sess.GetInfo()
	fmt.Printf("domesync serving %q (session %s, root %s). Press Ctrl+C to stop.\n", projectPath, info.SessionID, info.RootID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	return nil
}
