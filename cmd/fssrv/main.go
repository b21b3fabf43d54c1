// Command fssrv serves the filesystem RPC: it dials a disksrv for its
// sector storage, opens (or formats) the block/inode/namespace
// layers on top, and accepts fsproto connections.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/s7a9/drumfs/pkg/audit"
	"github.com/s7a9/drumfs/pkg/diskproto"
	"github.com/s7a9/drumfs/pkg/elog"
	"github.com/s7a9/drumfs/pkg/fscore"
	"github.com/s7a9/drumfs/pkg/fsproto"
	"github.com/s7a9/drumfs/pkg/svcconfig"
)

var log elog.View

var (
	flagDiskAddr      string
	flagFSHost        string
	flagFSPort        int
	flagCacheCap      int
	flagFlushInterval int
	flagFormat        bool
	flagConfigDir     string
	flagVerbose       bool
	flagDebug         bool
)

var rootCmd = &cobra.Command{
	Use:   "fssrv",
	Short: "Serve the filesystem RPC on top of a disksrv",
	RunE:  run,
}

func commandInit() {
	rootCmd.Flags().StringVar(&flagDiskAddr, "disk-addr", "", "disksrv address (default: config disk_host:disk_port)")
	rootCmd.Flags().StringVar(&flagFSHost, "host", "", "address to listen on (default: config disk_host)")
	rootCmd.Flags().IntVar(&flagFSPort, "port", 0, "port to listen on (default: config fs_port)")
	rootCmd.Flags().IntVar(&flagCacheCap, "cache-cap", 0, "resident block cache soft cap")
	rootCmd.Flags().IntVar(&flagFlushInterval, "flush-interval", 0, "requests between automatic cache flushes (stored in the server config only; connections flush every fsproto.FlushInterval requests)")
	rootCmd.Flags().BoolVar(&flagFormat, "format", false, "format the filesystem on startup, discarding existing contents")
	rootCmd.Flags().StringVar(&flagConfigDir, "config-dir", "", "directory holding server.toml (default: ~/.drumfs)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.Flags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)
		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}
		log = logger
		return nil
	}
}

// confirmFormat prompts on an interactive terminal before formatting
// over an existing filesystem; a non-TTY session (scripted startup)
// proceeds without asking, since --format was passed explicitly.
func confirmFormat() bool {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return true
	}
	fmt.Print("This will erase the existing filesystem. Continue? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return line == "y\n" || line == "Y\n" || line == "yes\n"
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := svcconfig.LoadServerConfig(flagConfigDir, svcconfig.ServerConfig{
		DiskHost:      flagFSHost,
		FSPort:        flagFSPort,
		CacheCap:      flagCacheCap,
		FlushInterval: flagFlushInterval,
	})
	if err != nil {
		return err
	}

	diskAddr := flagDiskAddr
	if diskAddr == "" {
		diskAddr = fmt.Sprintf("%s:%d", cfg.DiskHost, cfg.DiskPort)
	}

	disk, err := diskproto.Dial(diskAddr, 5*time.Second)
	if err != nil {
		return err
	}
	defer disk.Close()

	if flagFormat && !confirmFormat() {
		log.Printf("fssrv: aborted")
		return nil
	}

	rec := audit.New()
	core, err := fscore.Open(disk, fscore.Options{
		Create: flagFormat,
		Cap:    cfg.CacheCap,
		Log:    log,
		Audit:  rec,
	})
	if err != nil {
		return err
	}
	defer core.Close()

	addr := fmt.Sprintf("%s:%d", cfg.DiskHost, cfg.FSPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.Infof("fssrv: serving filesystem on %s (disk %s)", addr, diskAddr)
	srv := fsproto.NewServer(core, ln, rec)
	return srv.Serve()
}

func main() {
	commandInit()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
