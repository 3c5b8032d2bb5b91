// This file manages the on-disk directory entry structures of exFAT.

package fat

import (
	"fmt"
	"time"
)

// EntryType is the discriminator byte heading every 32-byte exFAT directory
// entry.
type EntryType uint8

const (
	entryTypeEndOfDirectory   EntryType = 0x00
	entryTypeNoVolumeLabel    EntryType = 0x03
	entryTypeAllocationBitmap EntryType = 0x81
	entryTypeUpcaseTable      EntryType = 0x82
	entryTypeVolumeLabel      EntryType = 0x83
	entryTypeFile             EntryType = 0x85
	entryTypeStreamExtension  EntryType = 0xc0
	entryTypeFilename         EntryType = 0xc1
)

func (et EntryType) IsEndOfDirectory() bool {
	return et == 0
}

func (et EntryType) IsUnusedEntryMarker() bool {
	return et >= 0x01 && et <= 0x7f
}

func (et EntryType) TypeCode() int {
	return int(et & 31)
}

func (et EntryType) IsCritical() bool {
	return et&32 == 0
}

func (et EntryType) IsBenign() bool {
	return et&32 > 0
}

func (et EntryType) IsPrimary() bool {
	return et&64 == 0
}

func (et EntryType) IsSecondary() bool {
	return et&64 > 0
}

func (et EntryType) IsInUse() bool {
	return et&128 > 0
}

func (et EntryType) String() string {
	return fmt.Sprintf("EntryType<TYPE-CODE=(%d) IS-CRITICAL=[%v] IS-PRIMARY=[%v] IS-IN-USE=[%v]>", et.TypeCode(), et.IsCritical(), et.IsPrimary(), et.IsInUse())
}

// FileAttributes is the DOS-compatible attribute word of a file entry.
type FileAttributes uint16

func (fa FileAttributes) IsReadOnly() bool {
	return fa&1 > 0
}

func (fa FileAttributes) IsHidden() bool {
	return fa&2 > 0
}

func (fa FileAttributes) IsSystem() bool {
	return fa&4 > 0
}

func (fa FileAttributes) IsDirectory() bool {
	return fa&16 > 0
}

func (fa FileAttributes) IsArchive() bool {
	return fa&32 > 0
}

func (fa FileAttributes) String() string {
	parts := make([]string, 0, 5)

	if fa.IsReadOnly() == true {
		parts = append(parts, "RO")
	}

	if fa.IsHidden() == true {
		parts = append(parts, "HIDDEN")
	}

	if fa.IsSystem() == true {
		parts = append(parts, "SYSTEM")
	}

	if fa.IsDirectory() == true {
		parts = append(parts, "DIR")
	}

	if fa.IsArchive() == true {
		parts = append(parts, "ARCHIVE")
	}

	return fmt.Sprintf("FileAttributes<%v>", parts)
}

// SecondaryFlags is the flag byte of secondary entries.
type SecondaryFlags uint8

func (sf SecondaryFlags) AllocationPossible() bool {
	return sf&1 > 0
}

// NoFatChain reports that the allocation is contiguous and the FAT entries
// for it are not meaningful.
func (sf SecondaryFlags) NoFatChain() bool {
	return sf&2 > 0
}

// ExfatTimestamp is the packed 32-bit local timestamp used throughout the
// directory structures. Seconds are stored with two-second granularity.
type ExfatTimestamp uint32

func (ts ExfatTimestamp) Second() int {
	return int(ts&31) * 2
}

func (ts ExfatTimestamp) Minute() int {
	return int(ts&2016) >> 5
}

func (ts ExfatTimestamp) Hour() int {
	return int(ts&63488) >> 11
}

func (ts ExfatTimestamp) Day() int {
	return int(ts&2031616) >> 16
}

func (ts ExfatTimestamp) Month() int {
	return int(ts&31457280) >> 21
}

func (ts ExfatTimestamp) Year() int {
	return 1980 + int(ts&4261412864)>>25
}

func (ts ExfatTimestamp) Timestamp() time.Time {

	// TODO: decode the companion UTC-offset fields into fixed zones.

	return time.Date(ts.Year(), time.Month(ts.Month()), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, time.UTC)
}

func (ts ExfatTimestamp) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second())
}

// exfatTime combines a packed timestamp with its 10ms-increment companion
// field.
func exfatTime(ts ExfatTimestamp, increment10ms uint8) time.Time {
	return ts.Timestamp().Add(time.Duration(increment10ms) * 10 * time.Millisecond)
}

// FileDirent is the critical primary entry (type 0x85) that heads a file
// entry set.
type FileDirent struct {
	EntryType                 EntryType
	SecondaryCount            uint8
	SetChecksum               uint16
	FileAttributes            FileAttributes
	Reserved1                 uint16
	CreateTimestamp           ExfatTimestamp
	LastModifiedTimestamp     ExfatTimestamp
	LastAccessedTimestamp     ExfatTimestamp
	Create10msIncrement       uint8
	LastModified10msIncrement uint8
	CreateUtcOffset           uint8
	LastModifiedUtcOffset     uint8
	LastAccessedUtcOffset     uint8
	Reserved2                 [7]byte
}

func (fd FileDirent) CreatedTime() time.Time {
	return exfatTime(fd.CreateTimestamp, fd.Create10msIncrement)
}

func (fd FileDirent) ModifiedTime() time.Time {
	return exfatTime(fd.LastModifiedTimestamp, fd.LastModified10msIncrement)
}

func (fd FileDirent) AccessedTime() time.Time {
	return fd.LastAccessedTimestamp.Timestamp()
}

func (fd FileDirent) String() string {
	return fmt.Sprintf("FileDirent<SECONDARY-COUNT=(%d) ATTRS=%s>", fd.SecondaryCount, fd.FileAttributes)
}

// StreamDirent is the critical secondary entry (type 0xc0) that carries the
// allocation geometry of a file entry set.
type StreamDirent struct {
	EntryType             EntryType
	GeneralSecondaryFlags SecondaryFlags
	Reserved1             uint8
	NameLength            uint8
	NameHash              uint16
	Reserved2             uint16
	ValidDataLength       uint64
	Reserved3             uint32
	FirstCluster          uint32
	DataLength            uint64
}

func (sd StreamDirent) String() string {
	return fmt.Sprintf("StreamDirent<FIRST-CLUSTER=(%d) DATA-LENGTH=(%d) NO-FAT-CHAIN=[%v]>", sd.FirstCluster, sd.DataLength, sd.GeneralSecondaryFlags.NoFatChain())
}

// FilenameDirent is the critical secondary entry (type 0xc1) carrying
// fifteen UTF-16 code units of the filename.
type FilenameDirent struct {
	EntryType             EntryType
	GeneralSecondaryFlags SecondaryFlags
	Filename              [30]byte
}

func (fnd FilenameDirent) String() string {
	return fmt.Sprintf("FilenameDirent<PART=[%s]>", utf16StringToNul(fnd.Filename[:]))
}

// VolumeLabelDirent is the critical primary entry (type 0x83, or 0x03 when
// no label is set) found in the root directory.
type VolumeLabelDirent struct {
	EntryType      EntryType
	CharacterCount uint8
	VolumeLabel    [22]byte
	Reserved       [8]byte
}

// Label returns the decoded label. Empty when no label is set.
func (vld VolumeLabelDirent) Label() string {
	count := int(vld.CharacterCount)
	if count > len(vld.VolumeLabel)/2 {
		count = len(vld.VolumeLabel) / 2
	}

	return utf16String(vld.VolumeLabel[:count*2])
}

func (vld VolumeLabelDirent) String() string {
	return fmt.Sprintf("VolumeLabelDirent<LABEL=[%s]>", vld.Label())
}

// BitmapDirent is the critical primary entry (type 0x81) locating the
// allocation bitmap.
type BitmapDirent struct {
	EntryType    EntryType
	BitmapFlags  uint8
	Reserved     [18]byte
	FirstCluster uint32
	DataLength   uint64
}

func (bd BitmapDirent) String() string {
	return fmt.Sprintf("BitmapDirent<FIRST-CLUSTER=(%d) DATA-LENGTH=(%d)>", bd.FirstCluster, bd.DataLength)
}

// UpcaseDirent is the critical primary entry (type 0x82) locating the
// up-case table.
type UpcaseDirent struct {
	EntryType     EntryType
	Reserved1     [3]byte
	TableChecksum uint32
	Reserved2     [12]byte
	FirstCluster  uint32
	DataLength    uint64
}

func (ud UpcaseDirent) String() string {
	return fmt.Sprintf("UpcaseDirent<FIRST-CLUSTER=(%d) DATA-LENGTH=(%d)>", ud.FirstCluster, ud.DataLength)
}
