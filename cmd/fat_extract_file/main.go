package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/forenseek/go-fat"
)

type rootParameters struct {
	FilesystemFilepath string `short:"f" long:"filesystem-filepath" description:"File-path of FAT or exFAT filesystem" required:"true"`
	ExtractFilepath    string `short:"e" long:"extract-filepath" description:"File-path to extract (use forward slashes)" required:"true"`
	OutputFilepath     string `short:"o" long:"output-filepath" description:"File-path to write to ('-' for STDOUT)" required:"true"`
}

var (
	rootArguments = new(rootParameters)
)

// openEntry resolves the requested path on either filesystem type and
// returns a view over its content.
func openEntry(f *os.File) (fat.SizedReadSeeker, error) {
	isExfat, err := fat.IsExfat(f)
	log.PanicIf(err)

	if isExfat == true {
		fs, err := fat.NewExFAT(f)
		log.PanicIf(err)

		entry, err := fs.Get(rootArguments.ExtractFilepath)
		if err != nil {
			return nil, err
		}

		view, err := entry.Open()
		log.PanicIf(err)

		return view, nil
	}

	fs, err := fat.NewFATFS(f)
	log.PanicIf(err)

	entry, err := fs.Get(rootArguments.ExtractFilepath)
	if err != nil {
		return nil, err
	}

	view, err := entry.Open()
	log.PanicIf(err)

	return view, nil
}

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	f, err := os.Open(rootArguments.FilesystemFilepath)
	log.PanicIf(err)

	defer f.Close()

	view, err := openEntry(f)

	var notFound fat.NotFoundError
	if errors.As(err, &notFound) == true {
		fmt.Printf("File not found.\n")
		os.Exit(2)
	}

	log.PanicIf(err)

	var g *os.File

	if rootArguments.OutputFilepath == "-" {
		g = os.Stdout
	} else {
		g, err = os.Create(rootArguments.OutputFilepath)
		log.PanicIf(err)

		defer func() {
			g.Close()
		}()
	}

	_, err = io.Copy(g, view)
	log.PanicIf(err)
}
