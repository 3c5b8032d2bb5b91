package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/forenseek/go-fat"
)

type rootParameters struct {
	Filepath string `short:"f" long:"filepath" description:"File-path of FAT or exFAT filesystem" required:"true"`
}

var (
	rootArguments = new(rootParameters)
)

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

		fs.Vbr().Dump()

		fmt.Printf("VolumeLabel: [%s]\n", fs.VolumeLabel())
		fmt.Printf("VolumeID: [%s]\n", fs.VolumeID())
	} else {
		fs, err := fat.NewFATFS(f)
		log.PanicIf(err)

		fs.Bpb().Dump()

		fmt.Printf("Variant: [%s]\n", fs.Variant())
		fmt.Printf("ClusterCount: (%d)\n", fs.ClusterCount())
		fmt.Printf("VolumeLabel: [%s]\n", fs.VolumeLabel())
		fmt.Printf("VolumeID: [%s]\n", fs.VolumeID())
	}
}
