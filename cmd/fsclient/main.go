// Command fsclient is an interactive REPL over pkg/fsproto, the Go
// counterpart of original_source/step2/client.cc's command loop.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gobwas/glob"
	colorable "github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/s7a9/drumfs/pkg/fsproto"
	"github.com/s7a9/drumfs/pkg/svcconfig"
)

var (
	flagServer   string
	flagUsername string
	flagTimeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "fsclient",
	Short: "Interactive client for the drumfs filesystem server",
	RunE:  run,
}

func commandInit() {
	cfg, _ := svcconfig.LoadClientConfig()

	rootCmd.Flags().StringVar(&flagServer, "server", cfg.Server, "filesystem server address")
	rootCmd.Flags().StringVar(&flagUsername, "user", cfg.Username, "username to authenticate as")
	rootCmd.Flags().DurationVar(&flagTimeout, "timeout", 5*time.Second, "connection timeout")
}

func main() {
	commandInit()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	client, err := fsproto.Dial(flagServer, flagUsername, flagTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	out := colorable.NewColorableStdout()
	okColor := color.New(color.FgGreen)
	errColor := color.New(color.FgRed)
	interactive := isatty.IsTerminal(os.Stdin.Fd())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Fprint(out, "\nFS >> ")
		}
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if fields[0] == "exit" || fields[0] == "e" {
			break
		}

		if err := dispatch(client, out, fields); err != nil {
			errColor.Fprintln(out, err.Error())
		} else {
			okColor.Fprintln(out, "OK")
		}
	}
	return nil
}

func dispatch(c *fsproto.Client, out io.Writer, fields []string) error {
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "format":
		return c.Format()

	case "mk":
		if len(args) < 1 {
			return fmt.Errorf("usage: mk <filename>")
		}
		return c.Create(args[0])

	case "mkdir":
		if len(args) < 1 {
			return fmt.Errorf("usage: mkdir <dirname>")
		}
		return c.Mkdir(args[0])

	case "rm":
		if len(args) < 1 {
			return fmt.Errorf("usage: rm <filename>")
		}
		return c.Remove(args[0])

	case "rmdir":
		if len(args) < 1 {
			return fmt.Errorf("usage: rmdir <dirname>")
		}
		return c.RemoveDir(args[0])

	case "cd":
		if len(args) < 1 {
			return fmt.Errorf("usage: cd <dirname>")
		}
		return c.ChangeDir(args[0])

	case "ls":
		names, err := c.List()
		if err != nil {
			return err
		}
		if len(args) > 0 {
			g, err := glob.Compile(args[0])
			if err != nil {
				return err
			}
			filtered := names[:0]
			for _, n := range names {
				if g.Match(n) {
					filtered = append(filtered, n)
				}
			}
			names = filtered
		}
		printNames(out, names)
		return nil

	case "lsuser":
		names, err := c.ListUsers()
		if err != nil {
			return err
		}
		printNames(out, names)
		return nil

	case "chmod":
		if len(args) < 2 {
			return fmt.Errorf("usage: chmod <filename> <mode>")
		}
		mode, err := strconv.ParseInt(args[1], 0, 32)
		if err != nil {
			return err
		}
		return c.Chmod(args[0], int32(mode))

	case "chown":
		if len(args) < 2 {
			return fmt.Errorf("usage: chown <filename> <uid>")
		}
		owner, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return err
		}
		return c.Chown(args[0], int32(owner))

	case "rename", "rn":
		if len(args) < 2 {
			return fmt.Errorf("usage: rename <oldname> <newname>")
		}
		return c.Rename(args[0], args[1])

	case "cat":
		if len(args) < 1 {
			return fmt.Errorf("usage: cat <filename>")
		}
		data, err := c.Cat(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil

	case "r":
		if len(args) < 3 {
			return fmt.Errorf("usage: r <filename> <offset> <size>")
		}
		offset, size, err := parseOffsetSize(args[1], args[2])
		if err != nil {
			return err
		}
		data, err := c.Read(args[0], offset, size)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil

	case "w":
		if len(args) < 3 {
			return fmt.Errorf("usage: w <filename> <offset> <data>")
		}
		offset, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}
		return c.Write(args[0], offset, []byte(args[2]))

	case "i":
		if len(args) < 3 {
			return fmt.Errorf("usage: i <filename> <offset> <data>")
		}
		offset, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}
		return c.Insert(args[0], offset, []byte(args[2]))

	case "d":
		if len(args) < 3 {
			return fmt.Errorf("usage: d <filename> <offset> <size>")
		}
		offset, size, err := parseOffsetSize(args[1], args[2])
		if err != nil {
			return err
		}
		return c.Delete(args[0], offset, size)

	case "trunc":
		if len(args) < 2 {
			return fmt.Errorf("usage: trunc <filename> <size>")
		}
		size, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}
		return c.Truncate(args[0], size)

	case "del":
		if len(args) < 1 {
			return fmt.Errorf("usage: del <filename>")
		}
		return c.DeleteAll(args[0])

	case "stat":
		if len(args) < 1 {
			return fmt.Errorf("usage: stat <filename>")
		}
		info, err := c.Stat(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, info)
		return nil

	case "adduser":
		if len(args) < 1 {
			return fmt.Errorf("usage: adduser <username>")
		}
		uid, err := c.AddUser(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "uid=%d\n", uid)
		return nil

	case "deluser":
		if len(args) < 1 {
			return fmt.Errorf("usage: deluser <uid>")
		}
		uid, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return err
		}
		return c.RemoveUser(int32(uid))

	case "flush":
		return c.Flush()

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func parseOffsetSize(offsetArg, sizeArg string) (offset, size int64, err error) {
	offset, err = strconv.ParseInt(offsetArg, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	size, err = strconv.ParseInt(sizeArg, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return offset, size, nil
}

func printNames(out io.Writer, names []string) {
	table := tablewriter.NewWriter(out)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for _, n := range names {
		table.Append([]string{n})
	}
	table.Render()
}
