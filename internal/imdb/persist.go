package imdb

import (
	"encoding/binary"
	"errors"

	"github.com/thingsshell/tshd/internal/platform"
)

// headerSize is the first 4 KiB of the user partition, reserved for
// the file header regardless of the platform's actual flash sector
// size.
const headerSize = 4096

// FileHeader is the on-flash header for a file-backed IMDB mirror.
type FileHeader struct {
	Version         uint16
	CRC16           uint16
	SCN             uint32
	BlockSize       uint16
	ClassLastOffset uint32
	FileSize        uint32
	FileHWM         uint32
}

const fileHeaderVersion = 0x0100

func (h FileHeader) encode() []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint16(b[0:2], h.Version)
	binary.BigEndian.PutUint16(b[2:4], h.CRC16)
	binary.BigEndian.PutUint32(b[4:8], h.SCN)
	binary.BigEndian.PutUint16(b[8:10], h.BlockSize)
	binary.BigEndian.PutUint32(b[10:14], h.ClassLastOffset)
	binary.BigEndian.PutUint32(b[14:18], h.FileSize)
	binary.BigEndian.PutUint32(b[18:20], h.FileHWM)
	return b
}

func decodeHeader(b []byte) FileHeader {
	return FileHeader{
		Version:         binary.BigEndian.Uint16(b[0:2]),
		CRC16:           binary.BigEndian.Uint16(b[2:4]),
		SCN:             binary.BigEndian.Uint32(b[4:8]),
		BlockSize:       binary.BigEndian.Uint16(b[8:10]),
		ClassLastOffset: binary.BigEndian.Uint32(b[10:14]),
		FileSize:        binary.BigEndian.Uint32(b[14:18]),
		FileHWM:         binary.BigEndian.Uint32(b[18:20]),
	}
}

// crcOf checksums every header field except CRC16 itself.
func crcOf(crc platform.CRC, h FileHeader) uint16 {
	tmp := h
	tmp.CRC16 = 0
	return crc.CRC16(tmp.encode())
}

var errCorruptMirror = errors.New("imdb: both mirror halves failed CRC")

// FileStore is the flash-backed mirror described in spec §6: a 4 KiB
// header followed by two equal-size halves, only one of which is ever
// the authoritative copy, so a crash mid-write always leaves the other
// half intact.
type FileStore struct {
	flash    platform.Flash
	crc      platform.CRC
	header   FileHeader
	halfSize int
}

// OpenFileStore opens (and if necessary reinitialises) a file-backed
// mirror over flash: the space after the 4 KiB header is split into
// two equal halves, and blockSize is recorded in a freshly
// initialised header.
func OpenFileStore(flash platform.Flash, crc platform.CRC, blockSize int) (*FileStore, error) {
	raw, err := flash.Read(0, headerSize)
	if err != nil {
		return nil, err
	}
	h := decodeHeader(raw[:20])
	halfSize := (flash.Size() - headerSize) / 2

	fs := &FileStore{flash: flash, crc: crc, halfSize: halfSize}
	if h.Version != fileHeaderVersion || crcOf(crc, h) != h.CRC16 {
		fs.header = FileHeader{Version: fileHeaderVersion, BlockSize: uint16(blockSize)}
		if err := fs.writeHeader(); err != nil {
			return nil, err
		}
		return fs, nil
	}
	fs.header = h
	return fs, nil
}

func (fs *FileStore) writeHeader() error {
	fs.header.CRC16 = crcOf(fs.crc, fs.header)
	return fs.flash.Write(0, fs.header.encode())
}

func (fs *FileStore) activeHalfOffset() int {
	if fs.header.SCN%2 == 0 {
		return headerSize
	}
	return headerSize + fs.halfSize
}

func (fs *FileStore) standbyHalfOffset() int {
	if fs.header.SCN%2 == 0 {
		return headerSize + fs.halfSize
	}
	return headerSize
}

// Save writes data to the standby half, then flips the header's SCN
// and FileSize to make it the new active half. Until the header write
// lands, the previous active half is still intact and recoverable.
func (fs *FileStore) Save(data []byte) error {
	if len(data) > fs.halfSize {
		return errors.New("imdb: mirror payload exceeds half size")
	}
	if err := fs.flash.Write(fs.standbyHalfOffset(), data); err != nil {
		return err
	}
	fs.header.SCN++
	fs.header.FileSize = uint32(len(data))
	fs.header.FileHWM = fs.header.FileSize
	return fs.writeHeader()
}

// Load returns the current active half's payload.
func (fs *FileStore) Load() ([]byte, error) {
	return fs.flash.Read(fs.activeHalfOffset(), int(fs.header.FileSize))
}
