package fat

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	vbrSize = 512

	exfatEntrySize = 32
)

var (
	exfatFileSystemName = []byte("EXFAT   ")

	requiredBootSignature = uint16(0xaa55)
)

// VolumeBootRecord is the first sector of an exFAT volume. Sector and
// cluster sizes are stored as powers of two.
type VolumeBootRecord struct {
	JumpBoot                    [3]byte
	FileSystemName              [8]byte
	MustBeZero                  [53]byte
	PartitionOffset             uint64
	VolumeLength                uint64
	FatOffset                   uint32
	FatLength                   uint32
	ClusterHeapOffset           uint32
	ClusterCount                uint32
	FirstClusterOfRootDirectory uint32
	VolumeSerialNumber          uint32
	FileSystemRevision          [2]uint8
	VolumeFlags                 uint16
	BytesPerSectorShift         uint8
	SectorsPerClusterShift      uint8
	NumberOfFats                uint8
	DriveSelect                 uint8
	PercentInUse                uint8
	Reserved                    [7]byte
	BootCode                    [390]byte
	BootSignature               uint16
}

// SectorSize returns the decoded sector size in bytes.
func (vbr VolumeBootRecord) SectorSize() uint32 {
	return uint32(1) << vbr.BytesPerSectorShift
}

// SectorsPerCluster returns the decoded cluster size in sectors.
func (vbr VolumeBootRecord) SectorsPerCluster() uint32 {
	return uint32(1) << vbr.SectorsPerClusterShift
}

func (vbr VolumeBootRecord) String() string {
	return fmt.Sprintf("VolumeBootRecord<SECTOR-SIZE=(%d) SECTORS-PER-CLUSTER=(%d) CLUSTER-COUNT=(%d) ROOT-CLUSTER=(%d)>", vbr.SectorSize(), vbr.SectorsPerCluster(), vbr.ClusterCount, vbr.FirstClusterOfRootDirectory)
}

// Dump prints the geometry fields of the volume boot record.
func (vbr VolumeBootRecord) Dump() {
	fmt.Printf("Volume Boot Record\n")
	fmt.Printf("==================\n")
	fmt.Printf("\n")

	fmt.Printf("FileSystemName: [%s]\n", string(vbr.FileSystemName[:]))
	fmt.Printf("PartitionOffset: (%d)\n", vbr.PartitionOffset)
	fmt.Printf("VolumeLength: (%d)\n", vbr.VolumeLength)
	fmt.Printf("FatOffset: (%d)\n", vbr.FatOffset)
	fmt.Printf("FatLength: (%d)\n", vbr.FatLength)
	fmt.Printf("ClusterHeapOffset: (%d)\n", vbr.ClusterHeapOffset)
	fmt.Printf("ClusterCount: (%d)\n", vbr.ClusterCount)
	fmt.Printf("FirstClusterOfRootDirectory: (%d)\n", vbr.FirstClusterOfRootDirectory)
	fmt.Printf("VolumeSerialNumber: (0x%08x)\n", vbr.VolumeSerialNumber)
	fmt.Printf("FileSystemRevision: (0x%02x 0x%02x)\n", vbr.FileSystemRevision[0], vbr.FileSystemRevision[1])
	fmt.Printf("VolumeFlags: (%016b)\n", vbr.VolumeFlags)
	fmt.Printf("BytesPerSectorShift: (%d) => (%d)\n", vbr.BytesPerSectorShift, vbr.SectorSize())
	fmt.Printf("SectorsPerClusterShift: (%d) => (%d)\n", vbr.SectorsPerClusterShift, vbr.SectorsPerCluster())
	fmt.Printf("NumberOfFats: (%d)\n", vbr.NumberOfFats)
	fmt.Printf("PercentInUse: (%d)\n", vbr.PercentInUse)
	fmt.Printf("\n")
}

// ExFAT is a read-only parser and navigator for exFAT volumes. Not safe for
// concurrent use.
type ExFAT struct {
	rs readerAtSeeker

	vbr VolumeBootRecord

	sectorSize        uint32
	sectorsPerCluster uint32
	clusterSize       uint32

	clusterHeapSector uint32
	clusterCount      uint32
	rootDirCluster    uint32

	// The exFAT allocation table is a plain 32-bit FAT; chains resolve with
	// FAT32 semantics.
	table *Table

	root *ExfatEntry

	volumeLabel string
	volumeID    string
}

// IsExfat reports whether the source carries the exFAT boot signature. The
// seek position is left unspecified.
func IsExfat(rs io.ReadSeeker) (bool, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return false, err
	}

	prefix := make([]byte, 11)
	if _, err := io.ReadFull(rs, prefix); err != nil {
		return false, err
	}

	return bytes.Equal(prefix[3:11], exfatFileSystemName), nil
}

// NewExFAT opens an exFAT volume whose boot record is at offset zero of rs.
// The boot record is validated and the root directory is decoded eagerly;
// everything below the root is decoded lazily.
func NewExFAT(rs io.ReadSeeker) (fs *ExFAT, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	ras := asReaderAtSeeker(rs)

	_, err = ras.Seek(0, io.SeekStart)
	log.PanicIf(err)

	raw := make([]byte, vbrSize)

	_, err = io.ReadFull(ras, raw)
	log.PanicIf(err)

	fs = &ExFAT{
		rs: ras,
	}

	err = restruct.Unpack(raw, defaultEncoding, &fs.vbr)
	log.PanicIf(err)

	if bytes.Equal(fs.vbr.FileSystemName[:], exfatFileSystemName) == false {
		panic(InvalidHeaderSignatureError{Signature: string(fs.vbr.FileSystemName[:])})
	}

	if fs.vbr.BootSignature != requiredBootSignature {
		panic(InvalidHeaderSignatureError{Signature: fmt.Sprintf("boot-signature 0x%04x", fs.vbr.BootSignature)})
	}

	fs.sectorSize = fs.vbr.SectorSize()
	fs.sectorsPerCluster = fs.vbr.SectorsPerCluster()
	fs.clusterSize = fs.sectorSize * fs.sectorsPerCluster

	fs.clusterHeapSector = fs.vbr.ClusterHeapOffset
	fs.clusterCount = fs.vbr.ClusterCount
	fs.rootDirCluster = fs.vbr.FirstClusterOfRootDirectory

	fatView := io.NewSectionReader(
		ras,
		int64(fs.vbr.FatOffset)*int64(fs.sectorSize),
		int64(fs.vbr.FatLength)*int64(fs.sectorSize))

	table, err := NewTable(fatView, Fat32)
	log.PanicIf(err)

	fs.table = table

	fs.root = fs.fabricateRoot()

	if fs.root.VolumeLabelEntry != nil {
		fs.volumeLabel = fs.root.VolumeLabelEntry.Label()
	}

	fs.volumeID = fmt.Sprintf("%x", fs.vbr.VolumeSerialNumber)

	return fs, nil
}

// Vbr returns the decoded volume boot record.
func (fs *ExFAT) Vbr() VolumeBootRecord {
	return fs.vbr
}

// SectorSize returns the sector size in bytes.
func (fs *ExFAT) SectorSize() uint32 {
	return fs.sectorSize
}

// ClusterSize returns the cluster size in bytes.
func (fs *ExFAT) ClusterSize() uint32 {
	return fs.clusterSize
}

// ClusterCount returns the number of clusters in the cluster heap.
func (fs *ExFAT) ClusterCount() uint32 {
	return fs.clusterCount
}

// VolumeLabel returns the label from the root directory's volume-label
// entry. Empty when no label is set.
func (fs *ExFAT) VolumeLabel() string {
	return fs.volumeLabel
}

// VolumeID returns the volume serial number as lowercase hex.
func (fs *ExFAT) VolumeID() string {
	return fs.volumeID
}

// Root returns the fabricated root directory entry.
func (fs *ExFAT) Root() *ExfatEntry {
	return fs.root
}

// ClusterToSector maps a cluster-heap cluster index to its absolute sector.
// ok is false when the result would land at or before the boot region, which
// means the cluster index is not addressable.
func (fs *ExFAT) ClusterToSector(cluster uint32) (sector int64, ok bool) {
	sector = (int64(cluster)-2)*int64(fs.sectorsPerCluster) + int64(fs.clusterHeapSector)
	if sector <= 0 {
		return 0, false
	}

	return sector, true
}

// SectorToCluster maps an absolute sector to the cluster-heap cluster index
// containing it.
func (fs *ExFAT) SectorToCluster(sector int64) (cluster uint32, ok bool) {
	relative := sector - int64(fs.clusterHeapSector)
	index := relative/int64(fs.sectorsPerCluster) + 2

	if relative < 0 || index < 2 {
		return 0, false
	}

	return uint32(index), true
}

// Runlist builds the sector-unit extent list of an allocation. Contiguous
// allocations (no-FAT-chain) never consult the FAT: they produce a single
// run covering the whole rounded-up cluster count. Fragmented allocations
// resolve through the FAT with FAT32 semantics.
func (fs *ExFAT) Runlist(startingCluster uint32, notFragmented bool, size uint64) (runs Runlist, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return fs.runlist(startingCluster, notFragmented, size), nil
}

func (fs *ExFAT) runlist(startingCluster uint32, notFragmented bool, size uint64) Runlist {
	runs := make(Runlist, 0)

	if startingCluster < dataClusterMin {
		return runs
	}

	spc := int64(fs.sectorsPerCluster)

	if notFragmented == true {
		clusters := int64((size + uint64(fs.clusterSize) - 1) / uint64(fs.clusterSize))
		if clusters == 0 {
			return runs
		}

		sector, ok := fs.ClusterToSector(startingCluster)
		if ok == false {
			return runs
		}

		return append(runs, Run{Offset: sector, Length: clusters * spc})
	}

	lastCluster := uint32(0)

	fs.table.enumerateChain(startingCluster, func(cluster uint32) (bool, error) {
		sector, ok := fs.ClusterToSector(cluster)
		if ok == false {
			panic(ClusterOutOfRangeError{Cluster: cluster, EntryCount: fs.clusterCount})
		}

		if n := len(runs); n > 0 && lastCluster+1 == cluster {
			runs[n-1].Length += spc
		} else {
			runs = append(runs, Run{Offset: sector, Length: spc})
		}

		lastCluster = cluster

		return true, nil
	})

	return runs
}

// fabricateRoot synthesizes the root directory entry. exFAT stores no
// directory record for the root, only its first cluster in the boot record.
// The root's own allocation always resolves through the FAT.
func (fs *ExFAT) fabricateRoot() *ExfatEntry {
	runs := fs.runlist(fs.rootDirCluster, false, 0)
	size := runs.TotalUnits() * int64(fs.sectorSize)

	root := &ExfatEntry{
		fs:   fs,
		name: "/",
	}

	root.Metadata = FileDirent{
		EntryType:      entryTypeFile,
		SecondaryCount: 2,
		FileAttributes: FileAttributes(16),
	}

	root.Stream = StreamDirent{
		EntryType:    entryTypeStreamExtension,
		NameLength:   1,
		FirstCluster: fs.rootDirCluster,
		DataLength:   uint64(size),
	}

	filename := FilenameDirent{
		EntryType: entryTypeFilename,
	}

	copy(filename.Filename[:], []byte{'/', 0x00})

	root.FilenameEntries = []FilenameDirent{filename}

	view := NewRunlistReader(fs.rs, runs, size, int64(fs.sectorSize))

	root.children = fs.decodeDirectoryEntries(view, root)
	root.childrenLoaded = true

	return root
}

// decodeDirectoryEntries decodes the 32-byte entries of one directory view.
// File entry sets become ExfatEntry children; the singleton volume-label,
// bitmap, and up-case entries are attached to the parent; unused entries and
// benign types without an interpretation here are skipped.
func (fs *ExFAT) decodeDirectoryEntries(view *RunlistReader, parent *ExfatEntry) []*ExfatEntry {
	entries := make([]*ExfatEntry, 0)

	buffer := make([]byte, exfatEntrySize)

	for view.Tell() < view.Size() {
		_, err := io.ReadFull(view, buffer)
		log.PanicIf(err)

		entryType := EntryType(buffer[0])

		if entryType.IsEndOfDirectory() == true {
			break
		}

		switch entryType {
		case entryTypeFile:
			entries = append(entries, fs.decodeFileEntrySet(view, buffer, parent))
		case entryTypeVolumeLabel, entryTypeNoVolumeLabel:
			vld := VolumeLabelDirent{}

			err := restruct.Unpack(buffer, defaultEncoding, &vld)
			log.PanicIf(err)

			parent.VolumeLabelEntry = &vld
		case entryTypeAllocationBitmap:
			bd := BitmapDirent{}

			err := restruct.Unpack(buffer, defaultEncoding, &bd)
			log.PanicIf(err)

			parent.BitmapEntry = &bd
		case entryTypeUpcaseTable:
			ud := UpcaseDirent{}

			err := restruct.Unpack(buffer, defaultEncoding, &ud)
			log.PanicIf(err)

			parent.UpcaseEntry = &ud
		default:
			// Unused entries and benign entry-types we do not interpret.
		}
	}

	return entries
}

// decodeFileEntrySet finishes reading one file entry set whose 0x85 entry is
// already in buffer: the stream extension followed by the filename entries.
func (fs *ExFAT) decodeFileEntrySet(view *RunlistReader, buffer []byte, parent *ExfatEntry) *ExfatEntry {
	entry := &ExfatEntry{
		fs:     fs,
		parent: parent,
	}

	err := restruct.Unpack(buffer, defaultEncoding, &entry.Metadata)
	log.PanicIf(err)

	if entry.Metadata.SecondaryCount < 1 {
		panic(InvalidDirectoryError{Reason: "file entry set has no stream extension"})
	}

	_, err = io.ReadFull(view, buffer)
	log.PanicIf(err)

	err = restruct.Unpack(buffer, defaultEncoding, &entry.Stream)
	log.PanicIf(err)

	if entry.Stream.EntryType != entryTypeStreamExtension {
		panic(InvalidDirectoryError{Reason: fmt.Sprintf("file entry set not followed by a stream extension: %s", entry.Stream.EntryType)})
	}

	filenameCount := int(entry.Metadata.SecondaryCount) - 1

	entry.FilenameEntries = make([]FilenameDirent, 0, filenameCount)

	assembled := make([]byte, 0, filenameCount*30)

	for i := 0; i < filenameCount; i++ {
		_, err := io.ReadFull(view, buffer)
		log.PanicIf(err)

		fnd := FilenameDirent{}

		err = restruct.Unpack(buffer, defaultEncoding, &fnd)
		log.PanicIf(err)

		if fnd.EntryType != entryTypeFilename {
			panic(InvalidDirectoryError{Reason: fmt.Sprintf("file entry set has a non-filename secondary: %s", fnd.EntryType)})
		}

		entry.FilenameEntries = append(entry.FilenameEntries, fnd)

		assembled = append(assembled, fnd.Filename[:]...)
	}

	entry.name = strings.TrimRight(utf16String(assembled), "\x00")

	return entry
}

// Get resolves a path from the root. Separators may be slashes or
// backslashes and matching is case-insensitive.
func (fs *ExFAT) Get(path string) (*ExfatEntry, error) {
	return fs.GetFrom(path, fs.root)
}

// GetFrom resolves a path relative to the given base entry.
func (fs *ExFAT) GetFrom(path string, base *ExfatEntry) (entry *ExfatEntry, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	current := base
	for _, part := range splitPath(path) {
		var found *ExfatEntry
		for _, child := range current.iterDir() {
			if strings.EqualFold(part, child.name) == true {
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

// ExfatEntry is one logical file or directory: the primary metadata entry,
// its stream extension, and the filename entries completing the set.
type ExfatEntry struct {
	fs     *ExFAT
	parent *ExfatEntry

	Metadata FileDirent
	Stream   StreamDirent

	FilenameEntries []FilenameDirent

	name string

	children       []*ExfatEntry
	childrenLoaded bool

	// Singleton entries observed while decoding this directory. Only ever
	// populated on the root.
	VolumeLabelEntry *VolumeLabelDirent
	BitmapEntry      *BitmapDirent
	UpcaseEntry      *UpcaseDirent
}

// Name returns the filename assembled from the filename entries.
func (ee *ExfatEntry) Name() string {
	return ee.name
}

// Path returns the slash-joined path from the root. The root itself has an
// empty path.
func (ee *ExfatEntry) Path() string {
	if ee.parent == nil {
		return ""
	}

	parentPath := ee.parent.Path()
	if parentPath == "" {
		return ee.name
	}

	return parentPath + "/" + ee.name
}

func (ee *ExfatEntry) IsDirectory() bool {
	return ee.Metadata.FileAttributes.IsDirectory()
}

// NotFragmented reports whether the allocation is contiguous (the
// no-FAT-chain flag of the stream extension).
func (ee *ExfatEntry) NotFragmented() bool {
	return ee.Stream.GeneralSecondaryFlags.NoFatChain()
}

// FirstCluster returns the starting cluster of the allocation.
func (ee *ExfatEntry) FirstCluster() uint32 {
	return ee.Stream.FirstCluster
}

// Size returns the byte size recorded in the stream extension.
func (ee *ExfatEntry) Size() int64 {
	return int64(ee.Stream.DataLength)
}

func (ee *ExfatEntry) CreatedTime() time.Time {
	return ee.Metadata.CreatedTime()
}

func (ee *ExfatEntry) ModifiedTime() time.Time {
	return ee.Metadata.ModifiedTime()
}

func (ee *ExfatEntry) AccessedTime() time.Time {
	return ee.Metadata.AccessedTime()
}

// Dataruns returns the sector-unit extent list of the entry's allocation.
func (ee *ExfatEntry) Dataruns() (runs Runlist, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return ee.dataruns(), nil
}

func (ee *ExfatEntry) dataruns() Runlist {
	return ee.fs.runlist(ee.Stream.FirstCluster, ee.NotFragmented(), ee.Stream.DataLength)
}

// Open returns a bounded view over the entry's content bytes.
func (ee *ExfatEntry) Open() (view SizedReadSeeker, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return ee.open(), nil
}

func (ee *ExfatEntry) open() *RunlistReader {
	return NewRunlistReader(ee.fs.rs, ee.dataruns(), ee.Size(), int64(ee.fs.sectorSize))
}

// IterDir returns the child entries of a directory. The directory is decoded
// on first use and memoized.
func (ee *ExfatEntry) IterDir() (children []*ExfatEntry, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return ee.iterDir(), nil
}

func (ee *ExfatEntry) iterDir() []*ExfatEntry {
	if ee.IsDirectory() == false {
		panic(NotADirectoryError{Name: ee.name})
	}

	if ee.childrenLoaded == false {
		ee.children = ee.fs.decodeDirectoryEntries(ee.open(), ee)
		ee.childrenLoaded = true
	}

	return ee.children
}

func (ee *ExfatEntry) String() string {
	return fmt.Sprintf("ExfatEntry<NAME=[%s] DIR=[%v] SIZE=(%d)>", ee.name, ee.IsDirectory(), ee.Size())
}
