package main

import (
	"fmt"
	"os"
	"time"

	"path/filepath"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/forenseek/go-fat"
)

type rootParameters struct {
	Filepath       string `short:"f" long:"filepath" description:"File-path of FAT or exFAT filesystem" required:"true"`
	FilenameFilter string `short:"p" long:"pattern" description:"Filename filter"`
}

var (
	rootArguments = new(rootParameters)
)

func matches(filename string) bool {
	if rootArguments.FilenameFilter == "" {
		return true
	}

	isMatched, err := filepath.Match(rootArguments.FilenameFilter, filename)
	log.PanicIf(err)

	return isMatched
}

func printEntry(size int64, modified time.Time, path string) {
	fmt.Printf("%15s %s %s\n", humanize.Comma(size), modified.Format("2006-01-02 15:04:05"), path)
}

func listFat(entry *fat.DirectoryEntry) {
	children, err := entry.IterDir()
	log.PanicIf(err)

	for _, child := range children {
		if child.Name() == "." || child.Name() == ".." {
			continue
		}

		size, err := child.Size()
		log.PanicIf(err)

		if matches(child.Name()) == true {
			printEntry(size, child.ModifiedTime(), child.Path())
		}

		if child.IsDirectory() == true {
			listFat(child)
		}
	}
}

func listExfat(entry *fat.ExfatEntry) {
	children, err := entry.IterDir()
	log.PanicIf(err)

	for _, child := range children {
		if matches(child.Name()) == true {
			printEntry(child.Size(), child.ModifiedTime(), child.Path())
		}

		if child.IsDirectory() == true {
			listExfat(child)
		}
	}
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

	f, err := os.Open(rootArguments.Filepath)
	log.PanicIf(err)

	defer f.Close()

	isExfat, err := fat.IsExfat(f)
	log.PanicIf(err)

	if isExfat == true {
		fs, err := fat.NewExFAT(f)
		log.PanicIf(err)

		listExfat(fs.Root())
	} else {
		fs, err := fat.NewFATFS(f)
		log.PanicIf(err)

		listFat(fs.Root())
	}
}
