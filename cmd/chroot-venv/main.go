package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/GothAck/chroot-venv/internal/buildroot"
	"github.com/GothAck/chroot-venv/internal/security"
	"github.com/GothAck/chroot-venv/internal/supervisor"
)

const usage = `assembles an ephemeral chroot environment from a declarative
build-root description, runs a command inside it, and tears the stack
down again regardless of how the command exits.`

func main() {
	app := cli.NewApp()
	app.Name = "chroot-venv"
	app.Usage = usage
	app.UsageText = "chroot-venv [options] [--keepfd=<fd>]... <chroot-name> [<command-or-args>...]"
	app.ArgsUsage = "<chroot-name> [<command-or-args>...]"

	app.Flags = []cli.Flag{
		cli.IntSliceFlag{
			Name:  "keepfd",
			Usage: "file descriptor to preserve across exec (repeatable)",
		},
		cli.StringFlag{
			Name:  "base",
			Usage: "override the build-root's configured base image id",
		},
		cli.BoolFlag{
			Name:  "print",
			Usage: "print the resolved config and exit",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable debug logging",
		},
	}

	app.Before = func(c *cli.Context) error {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		log.SetOutput(os.Stderr)
		if c.Bool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("missing <chroot-name>", 1)
	}

	// The resolved build-root name is relative to the binary's own
	// directory, not the caller's working directory.
	self, err := os.Executable()
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("resolve own path: %v", err), 1)
	}
	if err := os.Chdir(filepath.Dir(self)); err != nil {
		return cli.NewExitError(fmt.Sprintf("chdir to own directory: %v", err), 1)
	}

	name := c.Args().First()
	if filepath.IsAbs(name) || hasDotDotComponent(name) {
		return cli.NewExitError(fmt.Sprintf("%s must be a non-absolute path with no .. components", name), 1)
	}
	originalRoot, err := filepath.Abs(name)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("resolve %s: %v", name, err), 1)
	}
	info, err := os.Stat(originalRoot)
	if err != nil || !info.IsDir() {
		return cli.NewExitError(fmt.Sprintf("%s is not a directory", originalRoot), 1)
	}

	configPath := filepath.Join(originalRoot, buildroot.ConfigFileName)
	if err := security.CheckConfigFile(configPath); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	cfg, err := buildroot.Load(configPath)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if base := c.String("base"); base != "" {
		cfg.Base = &base
	}

	if c.Bool("print") {
		fmt.Printf("%+v\n", cfg)
		os.Exit(99)
	}

	keepFD := make(map[int]bool)
	for _, fd := range c.IntSlice("keepfd") {
		keepFD[fd] = true
	}

	args := c.Args().Tail()
	ledgerDir, err := os.Getwd()
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("getwd: %v", err), 1)
	}

	exit := supervisor.Run(cfg, originalRoot, args, keepFD, ledgerDir)
	os.Exit(exit)
	return nil
}

func hasDotDotComponent(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
