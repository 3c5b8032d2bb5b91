package fat

import (
	"bytes"
	"time"
	"unicode/utf16"

	"encoding/binary"
)

const (
	testSectorSize = 512
)

// Timestamp written into every fixture entry: 2019-09-01 12:30:42.
var (
	testWriteDate = uint16((2019-1980)<<9 | 9<<5 | 1)
	testWriteTime = uint16(12<<11 | 30<<5 | 42/2)

	testWriteTimestamp = time.Date(2019, 9, 1, 12, 30, 42, 0, time.UTC)
)

var (
	fat12File1Content = []byte("file one contents 1\n")         // 20 bytes
	fat12File2Content = []byte("contents of file two!!\n")      // 23 bytes
	fat12File3Content = []byte("file three in a subdir!!!!\n")  // 27 bytes

	exfatSubTxtContent = []byte("hello world")
)

// writeFat12 packs a 12-bit value into a nibble-packed table.
func writeFat12(table []byte, cluster uint32, value uint16) {
	offset := cluster + cluster/2
	word := binary.LittleEndian.Uint16(table[offset:])

	if cluster&1 == 1 {
		word = word&0x000f | value<<4
	} else {
		word = word&0xf000 | value&0x0fff
	}

	binary.LittleEndian.PutUint16(table[offset:], word)
}

// shortSlot builds a 32-byte short-name directory entry. name83 must be the
// full 11-byte padded name.
func shortSlot(name83 string, attr uint8, cluster uint16, size uint32) []byte {
	slot := make([]byte, direntSize)

	copy(slot[:11], name83)
	slot[11] = attr

	binary.LittleEndian.PutUint16(slot[22:], testWriteTime)
	binary.LittleEndian.PutUint16(slot[24:], testWriteDate)
	binary.LittleEndian.PutUint16(slot[26:], cluster)
	binary.LittleEndian.PutUint32(slot[28:], size)

	return slot
}

// lfnSlot builds a 32-byte long-filename slot carrying up to thirteen
// characters, NUL-terminated and 0xffff-padded like real volumes.
func lfnSlot(ordinal uint8, part string) []byte {
	slot := make([]byte, direntSize)

	slot[0] = ordinal
	slot[11] = attrLongName

	units := utf16.Encode([]rune(part))
	if len(units) < 13 {
		units = append(units, 0x0000)

		for len(units) < 13 {
			units = append(units, 0xffff)
		}
	}

	// Code-unit positions within the slot: five, six, and two units.
	offsets := []int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}
	for i, offset := range offsets {
		binary.LittleEndian.PutUint16(slot[offset:], units[i])
	}

	return slot
}

// buildFat12Image synthesizes a one-FAT, 512-byte-cluster FAT12 volume:
//
//	\VOLLAB1             (volume label)
//	\file1.txt           20 bytes, cluster 2
//	\file2.txt           23 bytes, cluster 3
//	\subdir1\            cluster 4
//	\subdir1\file3.txt   27 bytes, cluster 5
func buildFat12Image() []byte {
	image := make([]byte, 64*testSectorSize)

	bpb := Bpb{
		JumpBoot:            [3]byte{0xeb, 0x3c, 0x90},
		BytesPerSector:      512,
		SectorsPerCluster:   1,
		ReservedSectorCount: 1,
		NumFats:             1,
		RootEntryCount:      16,
		TotalSectors16:      64,
		Media:               0xf8,
		FatSize16:           1,
	}

	copy(bpb.OemName[:], "mkfs.fat")

	bpb16 := Bpb16{
		BootSignature: 0x29,
		VolumeID:      0xe038bb7c,
	}

	copy(bpb16.VolumeLabel[:], "VOLLAB1    ")
	copy(bpb16.FilesystemType[:], "FAT12   ")

	buffer := new(bytes.Buffer)

	if err := binary.Write(buffer, binary.LittleEndian, bpb); err != nil {
		panic(err)
	}

	if err := binary.Write(buffer, binary.LittleEndian, bpb16); err != nil {
		panic(err)
	}

	copy(image, buffer.Bytes())

	image[510] = 0x55
	image[511] = 0xaa

	// Sector 1: the FAT. Every allocation is a single cluster.
	fatRegion := image[testSectorSize : 2*testSectorSize]

	writeFat12(fatRegion, 0, 0xff8)
	writeFat12(fatRegion, 1, 0xfff)
	writeFat12(fatRegion, 2, 0xfff)
	writeFat12(fatRegion, 3, 0xfff)
	writeFat12(fatRegion, 4, 0xfff)
	writeFat12(fatRegion, 5, 0xfff)

	// Sector 2: the root directory region.
	offset := 2 * testSectorSize
	put := func(slot []byte) {
		copy(image[offset:], slot)
		offset += direntSize
	}

	put(shortSlot("VOLLAB1    ", AttrVolumeID, 0, 0))
	put(lfnSlot(0x41, "file1.txt"))
	put(shortSlot("FILE1   TXT", AttrArchive, 2, uint32(len(fat12File1Content))))
	put(lfnSlot(0x41, "file2.txt"))
	put(shortSlot("FILE2   TXT", AttrArchive, 3, uint32(len(fat12File2Content))))
	put(lfnSlot(0x41, "subdir1"))
	put(shortSlot("SUBDIR1    ", AttrDirectory, 4, 0))

	// Data region starts at sector 3; cluster N lives at sector 3 + (N - 2).
	clusterOffset := func(cluster int) int {
		return (3 + cluster - 2) * testSectorSize
	}

	copy(image[clusterOffset(2):], fat12File1Content)
	copy(image[clusterOffset(3):], fat12File2Content)

	offset = clusterOffset(4)

	put(shortSlot(".          ", AttrDirectory, 4, 0))
	put(shortSlot("..         ", AttrDirectory, 0, 0))
	put(lfnSlot(0x41, "file3.txt"))
	put(shortSlot("FILE3   TXT", AttrArchive, 5, uint32(len(fat12File3Content))))

	copy(image[clusterOffset(5):], fat12File3Content)

	return image
}

var fat32FileContent = []byte("fat32 file contents\n")

// buildFat32Image synthesizes a minimal FAT32 volume. FAT32 requires at least
// 65525 clusters, so the image is about 34MB of mostly zeroed sectors:
//
//	\VOLLAB32            (volume label)
//	\file32.txt          20 bytes, cluster 3
//
// The root directory is cluster 2, the first data cluster.
func buildFat32Image() []byte {
	const (
		reservedSectors = 32
		fatSectors      = 516
		dataSectors     = 65525
		totalSectors    = reservedSectors + fatSectors + dataSectors
	)

	image := make([]byte, totalSectors*testSectorSize)

	bpb := Bpb{
		JumpBoot:            [3]byte{0xeb, 0x58, 0x90},
		BytesPerSector:      512,
		SectorsPerCluster:   1,
		ReservedSectorCount: reservedSectors,
		NumFats:             1,
		Media:               0xf8,
		TotalSectors32:      totalSectors,
	}

	copy(bpb.OemName[:], "mkfs.fat")

	bpb32 := Bpb32{
		FatSize32:     fatSectors,
		RootCluster:   2,
		BootSignature: 0x29,
		VolumeID:      0x12345678,
	}

	copy(bpb32.VolumeLabel[:], "VOLLAB32   ")
	copy(bpb32.FilesystemType[:], "FAT32   ")

	buffer := new(bytes.Buffer)

	if err := binary.Write(buffer, binary.LittleEndian, bpb); err != nil {
		panic(err)
	}

	if err := binary.Write(buffer, binary.LittleEndian, bpb32); err != nil {
		panic(err)
	}

	copy(image, buffer.Bytes())

	image[510] = 0x55
	image[511] = 0xaa

	fatRegion := image[reservedSectors*testSectorSize:]

	binary.LittleEndian.PutUint32(fatRegion[0:], 0x0ffffff8)
	binary.LittleEndian.PutUint32(fatRegion[4:], 0x0fffffff)
	binary.LittleEndian.PutUint32(fatRegion[8:], 0x0fffffff)
	binary.LittleEndian.PutUint32(fatRegion[12:], 0x0fffffff)

	clusterOffset := func(cluster int) int {
		return (reservedSectors + fatSectors + cluster - 2) * testSectorSize
	}

	offset := clusterOffset(2)
	put := func(slot []byte) {
		copy(image[offset:], slot)
		offset += direntSize
	}

	put(shortSlot("VOLLAB32   ", AttrVolumeID, 0, 0))
	put(lfnSlot(0x41, "file32.txt"))
	put(shortSlot("FILE32  TXT", AttrArchive, 3, uint32(len(fat32FileContent))))

	copy(image[clusterOffset(3):], fat32FileContent)

	return image
}

// packExfatTimestamp packs wall-clock parts the way the 32-bit exFAT
// timestamp stores them. second must be even.
func packExfatTimestamp(year, month, day, hour, minute, second int) uint32 {
	return uint32(year-1980)<<25 | uint32(month)<<21 | uint32(day)<<16 |
		uint32(hour)<<11 | uint32(minute)<<5 | uint32(second/2)
}

var (
	testExfatCreateTimestamp   = packExfatTimestamp(2021, 3, 14, 9, 26, 54)
	testExfatModifiedTimestamp = packExfatTimestamp(2021, 3, 15, 18, 2, 8)

	testExfatCreateTime   = time.Date(2021, 3, 14, 9, 26, 54, 0, time.UTC)
	testExfatModifiedTime = time.Date(2021, 3, 15, 18, 2, 8, 0, time.UTC)
)

func exfatFileSlot(attributes uint16, secondaryCount uint8) []byte {
	slot := make([]byte, exfatEntrySize)

	slot[0] = byte(entryTypeFile)
	slot[1] = secondaryCount

	binary.LittleEndian.PutUint16(slot[4:], attributes)
	binary.LittleEndian.PutUint32(slot[8:], testExfatCreateTimestamp)
	binary.LittleEndian.PutUint32(slot[12:], testExfatModifiedTimestamp)
	binary.LittleEndian.PutUint32(slot[16:], testExfatModifiedTimestamp)

	return slot
}

func exfatStreamSlot(flags uint8, nameLength uint8, firstCluster uint32, dataLength uint64) []byte {
	slot := make([]byte, exfatEntrySize)

	slot[0] = byte(entryTypeStreamExtension)
	slot[1] = flags
	slot[3] = nameLength

	binary.LittleEndian.PutUint64(slot[8:], dataLength)
	binary.LittleEndian.PutUint32(slot[20:], firstCluster)
	binary.LittleEndian.PutUint64(slot[24:], dataLength)

	return slot
}

func exfatFilenameSlot(part string) []byte {
	slot := make([]byte, exfatEntrySize)

	slot[0] = byte(entryTypeFilename)

	units := utf16.Encode([]rune(part))
	for i, unit := range units {
		binary.LittleEndian.PutUint16(slot[2+i*2:], unit)
	}

	return slot
}

// buildExfatImage synthesizes a 4096-byte-cluster exFAT volume:
//
//	/file.txt        empty
//	/subdir/         cluster 6, resolved through the FAT
//	/subdir/sub.txt  contiguous (no FAT chain), cluster 7
//
// The root directory is cluster 5. The cluster heap starts at sector 32 with
// eight sectors per cluster, so cluster N lives at sector (N-2)*8 + 32.
func buildExfatImage() []byte {
	image := make([]byte, 80*testSectorSize)

	vbr := VolumeBootRecord{
		JumpBoot:                    [3]byte{0xeb, 0x76, 0x90},
		VolumeLength:                80,
		FatOffset:                   24,
		FatLength:                   2,
		ClusterHeapOffset:           32,
		ClusterCount:                16,
		FirstClusterOfRootDirectory: 5,
		VolumeSerialNumber:          0x4260a6fa,
		FileSystemRevision:          [2]uint8{0x00, 0x01},
		BytesPerSectorShift:         9,
		SectorsPerClusterShift:      3,
		NumberOfFats:                1,
		BootSignature:               0xaa55,
	}

	copy(vbr.FileSystemName[:], exfatFileSystemName)

	buffer := new(bytes.Buffer)

	if err := binary.Write(buffer, binary.LittleEndian, vbr); err != nil {
		panic(err)
	}

	copy(image, buffer.Bytes())

	// The FAT: 32-bit entries at sector 24. The root and subdir chains are
	// each a single cluster.
	fatRegion := image[24*testSectorSize:]

	binary.LittleEndian.PutUint32(fatRegion[0:], 0xfffffff8)
	binary.LittleEndian.PutUint32(fatRegion[4:], 0xffffffff)
	binary.LittleEndian.PutUint32(fatRegion[5*4:], 0xffffffff)
	binary.LittleEndian.PutUint32(fatRegion[6*4:], 0xffffffff)

	clusterOffset := func(cluster int) int {
		return ((cluster-2)*8 + 32) * testSectorSize
	}

	// Root directory at cluster 5.
	offset := clusterOffset(5)
	put := func(slot []byte) {
		copy(image[offset:], slot)
		offset += exfatEntrySize
	}

	volumeLabel := make([]byte, exfatEntrySize)
	volumeLabel[0] = byte(entryTypeVolumeLabel)

	bitmap := make([]byte, exfatEntrySize)
	bitmap[0] = byte(entryTypeAllocationBitmap)
	binary.LittleEndian.PutUint32(bitmap[20:], 2)
	binary.LittleEndian.PutUint64(bitmap[24:], 2)

	upcase := make([]byte, exfatEntrySize)
	upcase[0] = byte(entryTypeUpcaseTable)
	binary.LittleEndian.PutUint32(upcase[20:], 3)
	binary.LittleEndian.PutUint64(upcase[24:], 5836)

	put(volumeLabel)
	put(bitmap)
	put(upcase)

	put(exfatFileSlot(32, 2))
	put(exfatStreamSlot(0x00, 8, 0, 0))
	put(exfatFilenameSlot("file.txt"))

	put(exfatFileSlot(16, 2))
	put(exfatStreamSlot(0x01, 6, 6, 4096))
	put(exfatFilenameSlot("subdir"))

	// Subdirectory at cluster 6. Its single file is contiguous, so its FAT
	// entries are never consulted.
	offset = clusterOffset(6)

	put(exfatFileSlot(32, 2))
	put(exfatStreamSlot(0x03, 7, 7, uint64(len(exfatSubTxtContent))))
	put(exfatFilenameSlot("sub.txt"))

	copy(image[clusterOffset(7):], exfatSubTxtContent)

	return image
}

// countingReader counts the low-level read operations served, proving when
// memoized layers stop touching the source.
type countingReader struct {
	*bytes.Reader

	reads int
}

func newCountingReader(raw []byte) *countingReader {
	return &countingReader{Reader: bytes.NewReader(raw)}
}

func (cr *countingReader) Read(p []byte) (int, error) {
	cr.reads++
	return cr.Reader.Read(p)
}

func (cr *countingReader) ReadAt(p []byte, offset int64) (int, error) {
	cr.reads++
	return cr.Reader.ReadAt(p, offset)
}
