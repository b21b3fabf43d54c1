// Command disksrv serves a simulated rotating disk: a fixed
// cylinders×sectors grid of fixed-size sectors backed by a flat file,
// reachable over the sector RPC defined in pkg/diskproto.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/s7a9/drumfs/pkg/block"
	"github.com/s7a9/drumfs/pkg/diskimage"
	"github.com/s7a9/drumfs/pkg/diskproto"
	"github.com/s7a9/drumfs/pkg/elog"
	"github.com/s7a9/drumfs/pkg/svcconfig"
)

var log elog.View

var (
	flagImage     string
	flagHost      string
	flagPort      int
	flagCylinders int
	flagSectors   int
	flagMoveTime  time.Duration
	flagConfigDir string
	flagVerbose   bool
	flagDebug     bool
)

var rootCmd = &cobra.Command{
	Use:   "disksrv",
	Short: "Serve a simulated rotating disk over TCP",
	RunE:  runServe,
}

var backupCmd = &cobra.Command{
	Use:   "backup <dest.zst>",
	Short: "Compress the disk image to dest while the server is stopped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return diskimage.Backup(cfg.DiskImage, args[0], log)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <src.zst>",
	Short: "Restore the disk image from a backup made with 'backup'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return diskimage.Restore(args[0], cfg.DiskImage, log)
	},
}

func commandInit() {
	rootCmd.PersistentFlags().StringVar(&flagImage, "image", "", "path to the disk image file (default: config disk_image)")
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "", "address to listen on (default: config disk_host)")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "port to listen on (default: config disk_port)")
	rootCmd.PersistentFlags().IntVar(&flagCylinders, "cylinders", 0, "disk geometry: cylinder count")
	rootCmd.PersistentFlags().IntVar(&flagSectors, "sectors", 0, "disk geometry: sectors per cylinder")
	rootCmd.PersistentFlags().DurationVar(&flagMoveTime, "seek-time", 0, "simulated seek time charged per cylinder crossed")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory holding server.toml (default: ~/.drumfs)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

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

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

func loadConfig() (*svcconfig.ServerConfig, error) {
	return svcconfig.LoadServerConfig(flagConfigDir, svcconfig.ServerConfig{
		DiskHost:  flagHost,
		DiskPort:  flagPort,
		DiskImage: flagImage,
		Cylinders: flagCylinders,
		Sectors:   flagSectors,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flagImage = cfg.DiskImage

	disk, err := diskproto.OpenDisk(cfg.DiskImage, cfg.Cylinders, cfg.Sectors, block.Size, flagMoveTime)
	if err != nil {
		return err
	}
	defer disk.Close()

	addr := fmt.Sprintf("%s:%d", cfg.DiskHost, cfg.DiskPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.Infof("disksrv: serving %dx%d disk %q on %s", cfg.Cylinders, cfg.Sectors, cfg.DiskImage, addr)
	srv := diskproto.NewServer(disk, ln)
	return srv.Serve()
}

func main() {
	commandInit()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
