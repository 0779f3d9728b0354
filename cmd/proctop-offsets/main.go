//go:build linux

// Command proctop-offsets derives the kernel offset table from the running
// kernel's BTF and writes it as YAML, for use with --offsets-file or as a
// new built-in table.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/srodi/proctop-bpf/pkg/offsets"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	fs := pflag.NewFlagSet("proctop-offsets", pflag.ContinueOnError)
	out := fs.StringP("output", "o", "", "write the table to this file instead of stdout")
	compare := fs.String("compare", "", "print differences against an existing table and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	table, err := generate()
	if err != nil {
		log.WithError(err).Fatal("deriving offsets")
	}

	if *compare != "" {
		other, err := offsets.Load(*compare)
		if err != nil {
			log.WithError(err).Fatal("loading comparison table")
		}
		diffs := offsets.Diff(other, table)
		if len(diffs) == 0 {
			fmt.Println("tables match")
			return
		}
		fmt.Println(strings.Join(diffs, "\n"))
		os.Exit(1)
	}

	var buf bytes.Buffer
	if err := table.Save(&buf); err != nil {
		log.WithError(err).Fatal("encoding table")
	}

	if *out != "" {
		if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
			log.WithError(err).Fatal("writing table")
		}
		log.WithFields(logrus.Fields{"file": *out, "kernel": table.Kernel, "arch": table.Arch}).Info("offset table written")
		return
	}
	if _, err := os.Stdout.Write(buf.Bytes()); err != nil {
		log.WithError(err).Fatal("writing table")
	}
}

func generate() (offsets.Table, error) {
	table, err := offsets.FromKernel()
	if err != nil {
		return offsets.Table{}, err
	}
	table.Kernel, table.Arch, err = offsets.HostKernel()
	if err != nil {
		return offsets.Table{}, err
	}
	if err := table.Validate(); err != nil {
		return offsets.Table{}, err
	}
	return table, nil
}
