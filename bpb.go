// This file manages the low-level boot-sector structures shared by the three
// FAT bit-width variants.

package fat

import (
	"fmt"
)

// FatVariant distinguishes the three FAT bit-widths. The variant is always
// derived from the cluster count of the volume, never from the informational
// filesystem-type string stored in the boot sector.
type FatVariant int

const (
	FatVariantUnknown FatVariant = iota
	Fat12
	Fat16
	Fat32
)

// Volumes with fewer than 4085 clusters are FAT12 and volumes with fewer
// than 65525 clusters are FAT16. Everything else is FAT32.
const (
	fat12MaxClusterCount = 4085
	fat16MaxClusterCount = 65525
)

func variantForClusterCount(clusterCount uint32) FatVariant {
	if clusterCount < fat12MaxClusterCount {
		return Fat12
	} else if clusterCount < fat16MaxClusterCount {
		return Fat16
	}

	return Fat32
}

func (fv FatVariant) String() string {
	switch fv {
	case Fat12:
		return "FAT12"
	case Fat16:
		return "FAT16"
	case Fat32:
		return "FAT32"
	}

	return "UNKNOWN"
}

// BitsPerEntry returns the allocation-table entry width of the variant.
func (fv FatVariant) BitsPerEntry() int {
	switch fv {
	case Fat12:
		return 12
	case Fat16:
		return 16
	case Fat32:
		return 32
	}

	return 0
}

const (
	bpbSize      = 36
	bpbExtSize16 = 26
	bpbExtSize32 = 54

	direntSize = 32
)

// Bpb is the common boot parameter block found in the first 36 bytes of
// sector zero.
type Bpb struct {
	JumpBoot            [3]byte
	OemName             [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumFats             uint8
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               uint8
	FatSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
}

// Bpb16 is the FAT12/FAT16 extension that immediately follows the common
// block.
type Bpb16 struct {
	DriveNumber    uint8
	Reserved1      uint8
	BootSignature  uint8
	VolumeID       uint32
	VolumeLabel    [11]byte
	FilesystemType [8]byte
}

// Bpb32 is the FAT32 extension that immediately follows the common block. It
// occupies the same region of the sector as Bpb16; which one is meaningful
// depends on the variant.
type Bpb32 struct {
	FatSize32        uint32
	ExtFlags         uint16
	FsVersion        uint16
	RootCluster      uint32
	FsInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	Reserved1        uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FilesystemType   [8]byte
}

// Media bytes that identify a FAT volume. 0xf0 is removable media; 0xf8
// through 0xff are fixed disks and legacy floppy geometries.
var validMediaBytes = map[uint8]struct{}{
	0xf0: {},
	0xf8: {},
	0xf9: {},
	0xfa: {},
	0xfb: {},
	0xfc: {},
	0xfd: {},
	0xfe: {},
	0xff: {},
}

// validate applies the structural sanity checks that decide whether sector
// zero plausibly describes a FAT volume. It panics with InvalidBPBError.
func (bpb Bpb) validate() {
	jump := bpb.JumpBoot
	if (jump[0] != 0xeb || jump[2] != 0x90) && jump[0] != 0xe9 {
		panic(InvalidBPBError{Reason: fmt.Sprintf("invalid jump instruction: [%02x %02x %02x]", jump[0], jump[1], jump[2])})
	}

	if isPowerOfTwo(uint32(bpb.BytesPerSector)) == false || bpb.BytesPerSector < 512 || bpb.BytesPerSector > 4096 {
		panic(InvalidBPBError{Reason: fmt.Sprintf("invalid bytes-per-sector: (%d)", bpb.BytesPerSector)})
	}

	if isPowerOfTwo(uint32(bpb.SectorsPerCluster)) == false || bpb.SectorsPerCluster > 128 {
		panic(InvalidBPBError{Reason: fmt.Sprintf("invalid sectors-per-cluster: (%d)", bpb.SectorsPerCluster)})
	}

	if bpb.ReservedSectorCount == 0 {
		panic(InvalidBPBError{Reason: "reserved sector-count is zero"})
	}

	if bpb.NumFats == 0 {
		panic(InvalidBPBError{Reason: "FAT count is zero"})
	}

	if _, found := validMediaBytes[bpb.Media]; found == false {
		panic(InvalidBPBError{Reason: fmt.Sprintf("invalid media byte: (0x%02x)", bpb.Media)})
	}

	if bpb.RootEntryCount != 0 && uint32(bpb.RootEntryCount)*direntSize%uint32(bpb.BytesPerSector) != 0 {
		panic(InvalidBPBError{Reason: fmt.Sprintf("root entry-count (%d) does not fill whole sectors", bpb.RootEntryCount)})
	}

	if bpb.TotalSectors16 == 0 && bpb.TotalSectors32 == 0 {
		panic(InvalidBPBError{Reason: "total sector-count is zero"})
	}
}

// Dump prints the common boot parameter block fields.
func (bpb Bpb) Dump() {
	fmt.Printf("Boot Parameter Block\n")
	fmt.Printf("====================\n")
	fmt.Printf("\n")

	fmt.Printf("OemName: [%s]\n", string(bpb.OemName[:]))
	fmt.Printf("BytesPerSector: (%d)\n", bpb.BytesPerSector)
	fmt.Printf("SectorsPerCluster: (%d)\n", bpb.SectorsPerCluster)
	fmt.Printf("ReservedSectorCount: (%d)\n", bpb.ReservedSectorCount)
	fmt.Printf("NumFats: (%d)\n", bpb.NumFats)
	fmt.Printf("RootEntryCount: (%d)\n", bpb.RootEntryCount)
	fmt.Printf("TotalSectors16: (%d)\n", bpb.TotalSectors16)
	fmt.Printf("Media: (0x%02x)\n", bpb.Media)
	fmt.Printf("FatSize16: (%d)\n", bpb.FatSize16)
	fmt.Printf("HiddenSectors: (%d)\n", bpb.HiddenSectors)
	fmt.Printf("TotalSectors32: (%d)\n", bpb.TotalSectors32)
	fmt.Printf("\n")
}
