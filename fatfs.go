package fat

import (
	"fmt"
	"io"
	"strings"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
	"golang.org/x/text/encoding/charmap"
)

// FATFS is a read-only parser and navigator for FAT12, FAT16, and FAT32
// volumes. Not safe for concurrent use.
type FATFS struct {
	rs readerAtSeeker

	bpb   Bpb
	bpb16 Bpb16
	bpb32 Bpb32

	variant FatVariant

	// fatSize is the size of one FAT copy, in sectors.
	fatSize         uint32
	totalSectors    uint32
	firstDataSector uint32
	clusterCount    uint32

	sectorSize  uint32
	clusterSize uint32

	table    *Table
	dataView *io.SectionReader

	volumeLabel string
	volumeID    string

	codePage *charmap.Charmap

	root *DirectoryEntry
}

// NewFATFS opens a FAT volume whose boot sector is at offset zero of rs.
// Short names are decoded with code page 437.
func NewFATFS(rs io.ReadSeeker) (*FATFS, error) {
	return NewFATFSWithCodePage(rs, charmap.CodePage437)
}

// NewFATFSWithCodePage opens a FAT volume using the given OEM code page for
// short names. The boot sector is validated eagerly; all other structures
// are decoded lazily.
func NewFATFSWithCodePage(rs io.ReadSeeker, codePage *charmap.Charmap) (fs *FATFS, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	ras := asReaderAtSeeker(rs)

	_, err = ras.Seek(0, io.SeekStart)
	log.PanicIf(err)

	sector := make([]byte, 512)

	_, err = io.ReadFull(ras, sector)
	log.PanicIf(err)

	fs = &FATFS{
		rs:       ras,
		codePage: codePage,
	}

	err = restruct.Unpack(sector[:bpbSize], defaultEncoding, &fs.bpb)
	log.PanicIf(err)

	// Both extension layouts overlay the same bytes. Decode both; the
	// variant decides which one is meaningful.
	err = restruct.Unpack(sector[bpbSize:bpbSize+bpbExtSize16], defaultEncoding, &fs.bpb16)
	log.PanicIf(err)

	err = restruct.Unpack(sector[bpbSize:bpbSize+bpbExtSize32], defaultEncoding, &fs.bpb32)
	log.PanicIf(err)

	fs.bpb.validate()

	fs.fatSize = uint32(fs.bpb.FatSize16)
	if fs.fatSize == 0 {
		fs.fatSize = fs.bpb32.FatSize32
	}

	fs.totalSectors = uint32(fs.bpb.TotalSectors16)
	if fs.totalSectors == 0 {
		fs.totalSectors = fs.bpb.TotalSectors32
	}

	fs.sectorSize = uint32(fs.bpb.BytesPerSector)
	fs.clusterSize = fs.sectorSize * uint32(fs.bpb.SectorsPerCluster)

	rootDirSectors := (uint32(fs.bpb.RootEntryCount)*direntSize + fs.sectorSize - 1) / fs.sectorSize
	fs.firstDataSector = uint32(fs.bpb.ReservedSectorCount) + uint32(fs.bpb.NumFats)*fs.fatSize + rootDirSectors

	dataSectors := fs.totalSectors - fs.firstDataSector
	fs.clusterCount = dataSectors / uint32(fs.bpb.SectorsPerCluster)

	fs.variant = variantForClusterCount(fs.clusterCount)

	fatView := io.NewSectionReader(
		ras,
		int64(fs.bpb.ReservedSectorCount)*int64(fs.sectorSize),
		int64(fs.fatSize)*int64(fs.sectorSize))

	table, err := NewTable(fatView, fs.variant)
	log.PanicIf(err)

	fs.table = table

	fs.dataView = io.NewSectionReader(
		ras,
		int64(fs.firstDataSector)*int64(fs.sectorSize),
		int64(dataSectors)*int64(fs.sectorSize))

	var volumeLabel [11]byte
	var volumeID uint32

	if fs.variant == Fat32 {
		volumeLabel = fs.bpb32.VolumeLabel
		volumeID = fs.bpb32.VolumeID
	} else {
		volumeLabel = fs.bpb16.VolumeLabel
		volumeID = fs.bpb16.VolumeID
	}

	fs.volumeLabel = strings.Trim(fs.decodeOemString(volumeLabel[:]), " \x00")
	fs.volumeID = fmt.Sprintf("%x", volumeID)

	fs.root = newRootDirectoryEntry(fs)

	return fs, nil
}

func (fs *FATFS) decodeOemString(raw []byte) string {
	decoded, err := fs.codePage.NewDecoder().Bytes(raw)
	log.PanicIf(err)

	return string(decoded)
}

// Variant returns the detected bit-width variant.
func (fs *FATFS) Variant() FatVariant {
	return fs.variant
}

// Bpb returns the decoded common boot parameter block.
func (fs *FATFS) Bpb() Bpb {
	return fs.bpb
}

// Bpb16 returns the FAT12/FAT16 extension block. Only meaningful for those
// variants.
func (fs *FATFS) Bpb16() Bpb16 {
	return fs.bpb16
}

// Bpb32 returns the FAT32 extension block. Only meaningful for FAT32.
func (fs *FATFS) Bpb32() Bpb32 {
	return fs.bpb32
}

// SectorSize returns the sector size in bytes.
func (fs *FATFS) SectorSize() uint32 {
	return fs.sectorSize
}

// ClusterSize returns the cluster size in bytes.
func (fs *FATFS) ClusterSize() uint32 {
	return fs.clusterSize
}

// ClusterCount returns the number of data clusters on the volume.
func (fs *FATFS) ClusterCount() uint32 {
	return fs.clusterCount
}

// VolumeLabel returns the label recorded in the boot sector, trimmed of
// padding. Empty when no label is set.
func (fs *FATFS) VolumeLabel() string {
	return fs.volumeLabel
}

// VolumeID returns the volume serial number as lowercase hex.
func (fs *FATFS) VolumeID() string {
	return fs.volumeID
}

// Table returns the allocation-table accessor.
func (fs *FATFS) Table() *Table {
	return fs.table
}

// Root returns the fabricated root directory entry.
func (fs *FATFS) Root() *DirectoryEntry {
	return fs.root
}

// Get resolves a path from the root. Separators may be slashes or
// backslashes, matching is case-insensitive, and each component may be a
// long or a short name.
func (fs *FATFS) Get(path string) (*DirectoryEntry, error) {
	return fs.GetFrom(path, fs.root)
}

// GetFrom resolves a path relative to the given base entry.
func (fs *FATFS) GetFrom(path string, base *DirectoryEntry) (entry *DirectoryEntry, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	current := base
	for _, part := range splitPath(path) {
		// The root has no dot entries; resolve them in place.
		if current.isRoot == true && (part == "." || part == "..") {
			continue
		}

		var found *DirectoryEntry
		for _, child := range current.iterDir() {
			if strings.EqualFold(part, child.name) == true || strings.EqualFold(part, child.shortName) == true {
				found = child
				break
			}
		}

		if found == nil {
			panic(NotFoundError{Path: path})
		}

		current = found
	}

	return current, nil
}
