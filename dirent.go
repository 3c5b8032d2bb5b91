package fat

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

// Attribute bits of a directory entry.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20

	// A slot whose masked attributes equal attrLongName is a long-filename
	// continuation, not a real entry.
	attrLongName     = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
	attrLongNameMask = attrLongName | AttrDirectory | AttrArchive

	lastLongEntry   = 0x40
	longOrdinalMask = 0x3f
)

const (
	slotUnused         = 0xe5
	slotEndOfDirectory = 0x00

	// 0x05 escapes a leading 0xe5 in a short name so that the entry is not
	// mistaken for an unused slot.
	slotKanjiEscape = 0x05
)

// Dirent is the raw 32-byte short-name directory entry.
type Dirent struct {
	Name             [11]byte
	Attr             uint8
	NtReserved       uint8
	CreateTimeTenth  uint8
	CreateTime       uint16
	CreateDate       uint16
	LastAccessDate   uint16
	FirstClusterHigh uint16
	WriteTime        uint16
	WriteDate        uint16
	FirstClusterLow  uint16
	FileSize         uint32
}

// Ldirent is the raw 32-byte long-filename continuation slot. It overlays
// the same bytes as Dirent with a different interpretation.
type Ldirent struct {
	Ord             uint8
	Name1           [10]byte
	Attr            uint8
	Type            uint8
	Checksum        uint8
	Name2           [12]byte
	FirstClusterLow uint16
	Name3           [4]byte
}

// nameFragment returns the thirteen UTF-16 code units this slot carries, as
// raw little-endian bytes.
func (ld Ldirent) nameFragment() []byte {
	fragment := make([]byte, 0, 26)

	fragment = append(fragment, ld.Name1[:]...)
	fragment = append(fragment, ld.Name2[:]...)
	fragment = append(fragment, ld.Name3[:]...)

	return fragment
}

// DirectoryEntry is one decoded entry of a FAT directory: the short-name
// record plus any long-filename slots that preceded it. The root directory
// is represented by a fabricated entry since FAT stores no record for it.
type DirectoryEntry struct {
	fs     *FATFS
	parent *DirectoryEntry

	dirent   Dirent
	ldirents []Ldirent

	name      string
	shortName string

	isRoot bool

	runs       Runlist
	runsLoaded bool

	children []*DirectoryEntry
}

// newRootDirectoryEntry fabricates the root entry. FAT stores no directory
// record for the root itself, only geometry that locates its slots.
func newRootDirectoryEntry(fs *FATFS) *DirectoryEntry {
	root := &DirectoryEntry{
		fs:        fs,
		name:      `\`,
		shortName: `\`,
		isRoot:    true,
	}

	root.dirent.Attr = AttrDirectory

	return root
}

// decodeDirectoryEntry reads one logical entry from r: zero or more
// long-filename slots followed by the short-name record. It panics with
// errDirentEmpty for unused slots, errDirentLast for the end-of-directory
// marker, and io.EOF when the source is exhausted.
func decodeDirectoryEntry(fs *FATFS, r io.Reader, parent *DirectoryEntry) *DirectoryEntry {
	buffer := make([]byte, direntSize)

	_, err := io.ReadFull(r, buffer)
	log.PanicIf(err)

	dirent := Dirent{}

	err = restruct.Unpack(buffer, defaultEncoding, &dirent)
	log.PanicIf(err)

	if dirent.Name[0] == slotUnused {
		panic(errDirentEmpty)
	} else if dirent.Name[0] == slotEndOfDirectory {
		panic(errDirentLast)
	}

	entry := &DirectoryEntry{
		fs:     fs,
		parent: parent,
	}

	if dirent.Attr&attrLongNameMask == attrLongName {
		ldirent := Ldirent{}

		err = restruct.Unpack(buffer, defaultEncoding, &ldirent)
		log.PanicIf(err)

		foundLast := false
		for ldirent.Attr&attrLongNameMask == attrLongName {
			entry.ldirents = append(entry.ldirents, ldirent)

			if ldirent.Ord&lastLongEntry != 0 {
				if foundLast == true {
					panic(InvalidDirectoryError{Reason: "multiple last-entry markers in one long-filename group"})
				}

				foundLast = true
			}

			_, err = io.ReadFull(r, buffer)
			log.PanicIf(err)

			ldirent = Ldirent{}

			err = restruct.Unpack(buffer, defaultEncoding, &ldirent)
			log.PanicIf(err)
		}

		err = restruct.Unpack(buffer, defaultEncoding, &entry.dirent)
		log.PanicIf(err)

		// Continuation slots are stored in descending ordinal order. Sort
		// ascending so reconstruction does not depend on physical order.
		sort.Slice(entry.ldirents, func(i, j int) bool {
			return entry.ldirents[i].Ord&longOrdinalMask < entry.ldirents[j].Ord&longOrdinalMask
		})

		assembled := make([]byte, 0, len(entry.ldirents)*26)
		for _, ld := range entry.ldirents {
			assembled = append(assembled, ld.nameFragment()...)
		}

		entry.name = utf16StringToNul(assembled)
	} else {
		entry.dirent = dirent
	}

	shortRaw := make([]byte, 11)
	copy(shortRaw, entry.dirent.Name[:])

	if shortRaw[0] == slotKanjiEscape {
		shortRaw[0] = slotUnused
	}

	base := trimShortNameField(fs.decodeOemString(shortRaw[:8]))
	extension := trimShortNameField(fs.decodeOemString(shortRaw[8:]))

	if extension != "" {
		entry.shortName = base + "." + extension
	} else {
		entry.shortName = base
	}

	if entry.name == "" {
		entry.name = entry.shortName
	}

	return entry
}

// trimShortNameField strips the trailing NULs and then the trailing space
// padding of one 8.3 name field.
func trimShortNameField(field string) string {
	return strings.TrimRight(strings.TrimRight(field, "\x00"), " ")
}

// decodeNextDirectoryEntry drives decodeDirectoryEntry for iteration: unused
// slots are skipped (nil entry, ok true) while the end-of-directory marker
// and source exhaustion end the walk (ok false).
func decodeNextDirectoryEntry(fs *FATFS, r io.Reader, parent *DirectoryEntry) (entry *DirectoryEntry, ok bool) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err, isErr := errRaw.(error)
			if isErr == false {
				panic(errRaw)
			}

			if err == errDirentEmpty {
				entry, ok = nil, true
			} else if err == errDirentLast || err == io.EOF || err == io.ErrUnexpectedEOF {
				entry, ok = nil, false
			} else {
				panic(errRaw)
			}
		}
	}()

	return decodeDirectoryEntry(fs, r, parent), true
}

// Name returns the long filename if the entry has one, and the 8.3 name
// otherwise.
func (de *DirectoryEntry) Name() string {
	return de.name
}

// ShortName returns the 8.3 name.
func (de *DirectoryEntry) ShortName() string {
	return de.shortName
}

// Path returns the backslash-joined path from the root. The root itself has
// an empty path.
func (de *DirectoryEntry) Path() string {
	if de.parent == nil {
		return ""
	}

	parentPath := de.parent.Path()
	if parentPath == "" {
		return de.name
	}

	return parentPath + `\` + de.name
}

// Raw returns the underlying short-name record.
func (de *DirectoryEntry) Raw() Dirent {
	return de.dirent
}

func (de *DirectoryEntry) IsReadOnly() bool {
	return de.dirent.Attr&AttrReadOnly != 0
}

func (de *DirectoryEntry) IsHidden() bool {
	return de.dirent.Attr&AttrHidden != 0
}

func (de *DirectoryEntry) IsSystem() bool {
	return de.dirent.Attr&AttrSystem != 0
}

func (de *DirectoryEntry) IsVolumeID() bool {
	return de.dirent.Attr&AttrVolumeID != 0
}

func (de *DirectoryEntry) IsDirectory() bool {
	return de.dirent.Attr&AttrDirectory != 0
}

func (de *DirectoryEntry) IsArchive() bool {
	return de.dirent.Attr&AttrArchive != 0
}

// FirstCluster returns the starting cluster of the entry's allocation. The
// fabricated root reports the FAT32 root cluster, or zero for the fixed
// FAT12/FAT16 root region.
func (de *DirectoryEntry) FirstCluster() uint32 {
	if de.isRoot == true {
		if de.fs.variant == Fat32 {
			return de.fs.bpb32.RootCluster
		}

		return 0
	}

	return uint32(de.dirent.FirstClusterHigh)<<16 | uint32(de.dirent.FirstClusterLow)
}

// CreatedTime returns the creation timestamp, or the DOS epoch when the
// fields are unset.
func (de *DirectoryEntry) CreatedTime() time.Time {
	if de.dirent.CreateDate == 0 || de.dirent.CreateTime == 0 {
		return dosEpoch
	}

	return DosTimestamp(de.dirent.CreateDate, de.dirent.CreateTime, de.dirent.CreateTimeTenth)
}

// AccessedTime returns the last-access timestamp. Only a date is stored.
func (de *DirectoryEntry) AccessedTime() time.Time {
	return DosTimestamp(de.dirent.LastAccessDate, 0, 0)
}

// ModifiedTime returns the last-write timestamp.
func (de *DirectoryEntry) ModifiedTime() time.Time {
	return DosTimestamp(de.dirent.WriteDate, de.dirent.WriteTime, 0)
}

// Dataruns returns the extent list of the entry's allocation. The chain is
// resolved on first use and memoized.
func (de *DirectoryEntry) Dataruns() (runs Runlist, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return de.dataruns(), nil
}

func (de *DirectoryEntry) dataruns() Runlist {
	if de.runsLoaded == false {
		if cluster := de.FirstCluster(); cluster == freeClusterValue {
			de.runs = make(Runlist, 0)
		} else {
			de.runs = de.fs.table.runlist(cluster)
		}

		de.runsLoaded = true
	}

	return de.runs
}

// Size returns the byte size of the entry. Directories have no recorded
// size, so theirs is derived from the extent of the allocation.
func (de *DirectoryEntry) Size() (size int64, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return de.size(), nil
}

func (de *DirectoryEntry) size() int64 {
	if de.isRoot == true && de.fs.variant != Fat32 {
		return int64(de.fs.bpb.RootEntryCount) * direntSize
	}

	if de.IsDirectory() == true {
		return de.dataruns().TotalUnits() * int64(de.fs.clusterSize)
	}

	return int64(de.dirent.FileSize)
}

// Open returns a bounded view over the entry's content bytes. For a file the
// view covers exactly FileSize bytes; for a directory it covers the whole
// allocation.
func (de *DirectoryEntry) Open() (view SizedReadSeeker, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return de.open(), nil
}

func (de *DirectoryEntry) open() SizedReadSeeker {
	if de.isRoot == true && de.fs.variant != Fat32 {
		// The FAT12/FAT16 root directory is a fixed region between the last
		// FAT and the data region. It has no cluster chain.
		rootDirSector := uint32(de.fs.bpb.ReservedSectorCount) + uint32(de.fs.bpb.NumFats)*de.fs.fatSize

		return io.NewSectionReader(de.fs.rs, int64(rootDirSector)*int64(de.fs.sectorSize), de.size())
	}

	return NewRunlistReader(de.fs.dataView, de.dataruns(), de.size(), int64(de.fs.clusterSize))
}

// IterDir returns the child entries of a directory. The directory is decoded
// on first use and memoized; repeated calls return the same slice without
// touching the underlying source.
func (de *DirectoryEntry) IterDir() (children []*DirectoryEntry, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return de.iterDir(), nil
}

func (de *DirectoryEntry) iterDir() []*DirectoryEntry {
	if de.IsDirectory() == false {
		panic(NotADirectoryError{Name: de.name})
	}

	if de.children != nil {
		return de.children
	}

	view := de.open()

	children := make([]*DirectoryEntry, 0)
	for {
		child, ok := decodeNextDirectoryEntry(de.fs, view, de)
		if ok == false {
			break
		}

		if child != nil {
			children = append(children, child)
		}
	}

	de.children = children

	return children
}
