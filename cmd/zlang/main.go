// Command zlang compiles ZLang source files into C, or straight to a
// native binary through the host C compiler.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tebeka/atexit"

	"zlang/pkg/compiler"
	"zlang/pkg/config"
	"zlang/pkg/toolchain"
	"zlang/pkg/zutil"
)

const version = "0.3.0"

type options struct {
	format   string
	output   string
	cc       string
	optimize bool
	cflags   []string
	dump     bool
	verbose  bool
}

func main() {
	format := flag.String("f", "", "output format: c or exe (default exe)")
	output := flag.String("o", "", "output path (default: source with swapped extension)")
	cc := flag.String("c", "", "preferred C compiler: clang or gcc")
	dump := flag.Bool("dump", false, "print the instruction stream before and after optimization")
	watch := flag.Bool("watch", false, "recompile whenever the source changes")
	verbose := flag.Bool("verbose", false, "print per-stage timings")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("zlang", version)
		return
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: zlang <source.z> [flags]")
		os.Exit(2)
	}
	if *format != "" && *format != "c" && *format != "exe" {
		fmt.Fprintf(os.Stderr, "unknown format %q (want c or exe)\n", *format)
		os.Exit(2)
	}

	srcPath := filepath.Clean(flag.Arg(0))
	fullPath, baseDir, err := zutil.GetPathInfo(srcPath)
	if err != nil {
		fail(err)
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		fail(err)
	}
	opts := resolve(cfg, *format, *output, *cc)
	opts.dump = *dump
	opts.verbose = *verbose

	if *watch {
		watchLoop(srcPath, fullPath, opts)
		return
	}
	if err := runOnce(srcPath, opts); err != nil {
		fail(err)
	}
	atexit.Exit(0)
}

// resolve layers flag values over config defaults.
func resolve(cfg *config.Config, format, output, cc string) options {
	opts := options{
		format:   "exe",
		output:   output,
		cc:       cc,
		optimize: cfg.OptimizeEnabled(),
		cflags:   cfg.CFlags,
	}
	if cfg.Format != "" {
		opts.format = cfg.Format
	}
	if format != "" {
		opts.format = format
	}
	if cc == "" {
		opts.cc = cfg.Compiler
	}
	return opts
}

func runOnce(srcPath string, opts options) error {
	start := time.Now()
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return &compiler.Error{
			Message: fmt.Sprintf("cannot read source: %v", err),
			Path:    srcPath,
			Code:    compiler.FileReadError,
		}
	}
	src := string(data)
	pipeline := compiler.Options{SkipOptimize: !opts.optimize}

	if opts.dump {
		raw, err := compiler.Dump(src, srcPath, compiler.Options{SkipOptimize: true})
		if err != nil {
			return err
		}
		fmt.Println("== instructions ==")
		fmt.Print(raw)
		if opts.optimize {
			opt, err := compiler.Dump(src, srcPath, pipeline)
			if err != nil {
				return err
			}
			fmt.Println("== instructions (optimized) ==")
			fmt.Print(opt)
		}
	}

	cSource, err := compiler.CompileWith(src, srcPath, pipeline)
	if err != nil {
		return err
	}
	compiled := time.Now()

	outPath := zutil.OutputPath(srcPath, opts.output, opts.format)
	if opts.format == "c" {
		if err := os.WriteFile(outPath, []byte(cSource), 0o644); err != nil {
			return &compiler.Error{
				Message: fmt.Sprintf("cannot write output: %v", err),
				Path:    outPath,
				Code:    compiler.FileWriteError,
			}
		}
		if opts.verbose {
			fmt.Printf("compile %v, write %v\n", compiled.Sub(start).Round(time.Microsecond), time.Since(compiled).Round(time.Microsecond))
		}
		fmt.Println("wrote", outPath)
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), "zlang-*.c")
	if err != nil {
		return &compiler.Error{
			Message: fmt.Sprintf("cannot create temporary file: %v", err),
			Code:    compiler.IOError,
		}
	}
	tmpPath := tmp.Name()
	atexit.Register(func() { os.Remove(tmpPath) })
	if _, err := tmp.WriteString(cSource); err != nil {
		tmp.Close()
		return &compiler.Error{
			Message: fmt.Sprintf("cannot write temporary file: %v", err),
			Path:    tmpPath,
			Code:    compiler.FileWriteError,
		}
	}
	if err := tmp.Close(); err != nil {
		return &compiler.Error{
			Message: fmt.Sprintf("cannot close temporary file: %v", err),
			Path:    tmpPath,
			Code:    compiler.IOError,
		}
	}
	written := time.Now()

	cc, err := toolchain.Find(opts.cc)
	if err != nil {
		return err
	}
	if opts.verbose {
		fmt.Println("using", cc.Version)
	}
	if err := cc.Build(tmpPath, outPath, opts.cflags); err != nil {
		return err
	}
	os.Remove(tmpPath)

	if opts.verbose {
		fmt.Printf("compile %v, write %v, cc %v\n",
			compiled.Sub(start).Round(time.Microsecond),
			written.Sub(compiled).Round(time.Microsecond),
			time.Since(written).Round(time.Millisecond))
	}
	fmt.Println("built", outPath)
	return nil
}

// watchLoop recompiles on every save of the source file. Compile failures
// are reported but do not end the loop.
func watchLoop(srcPath, fullPath string, opts options) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatalf("watch: %v", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(fullPath)); err != nil {
		log.Fatalf("watch %s: %v", filepath.Dir(fullPath), err)
	}

	run := func() {
		if err := runOnce(srcPath, opts); err != nil {
			diag(err.Error())
		}
	}
	run()
	fmt.Println("watching", srcPath)

	var last time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name != fullPath {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			// editors fire bursts of events per save
			if time.Since(last) < 100*time.Millisecond {
				continue
			}
			last = time.Now()
			run()
		case werr, ok := <-w.Errors:
			if !ok {
				return
			}
			diag(werr.Error())
		}
	}
}

const (
	colRed = "\x1b[31m"
	colOff = "\x1b[0m"
)

// diag prints one diagnostic to stderr, colorized when it is a terminal.
func diag(msg string) {
	if stderrIsTTY() {
		msg = strings.Replace(msg, "error:", colRed+"error:"+colOff, 1)
	}
	fmt.Fprintln(os.Stderr, msg)
}

func fail(err error) {
	diag(err.Error())
	atexit.Exit(compiler.ExitCode(err))
}
