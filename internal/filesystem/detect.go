// Package filesystem prepares an attached block device for use: it detects
// an existing filesystem, creates one when the device is blank and mounts it.
package filesystem

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// Type identifies a filesystem by its on-disk signature
type Type string

const (
	TypeNone  Type = ""
	TypeExt   Type = "ext"
	TypeXFS   Type = "xfs"
	TypeBtrfs Type = "btrfs"
	TypeSwap  Type = "swap"
)

// PrefixSize is the number of leading device bytes DetectFilesystem needs.
const PrefixSize = 64*1024 + 2*1024

const (
	extMagicOffset   = 1080
	extMagic         = 0xEF53
	btrfsMagicOffset = 64*1024 + 64
	swapMagicOffset  = 4096 - 10
)

var (
	xfsMagic   = []byte("XFSB")
	btrfsMagic = []byte("_BHRfS_M")
	swapMagics = [][]byte{[]byte("SWAPSPACE2"), []byte("SWAP-SPACE")}
)

// DetectFilesystem returns the filesystem whose signature appears in prefix,
// the first bytes of a device. A prefix shorter than PrefixSize can only
// match signatures that fit inside it.
func DetectFilesystem(prefix []byte) Type {
	switch {
	case hasAt(prefix, 0, xfsMagic):
		return TypeXFS
	case len(prefix) >= extMagicOffset+2 &&
		binary.LittleEndian.Uint16(prefix[extMagicOffset:]) == extMagic:
		return TypeExt
	case hasAt(prefix, btrfsMagicOffset, btrfsMagic):
		return TypeBtrfs
	}
	for _, magic := range swapMagics {
		if hasAt(prefix, swapMagicOffset, magic) {
			return TypeSwap
		}
	}
	return TypeNone
}

func hasAt(data []byte, offset int, magic []byte) bool {
	end := offset + len(magic)
	return len(data) >= end && bytes.Equal(data[offset:end], magic)
}

// ReadPrefix reads up to PrefixSize bytes from the start of device
func ReadPrefix(device string) ([]byte, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, deviceReadError(err, device)
	}
	defer f.Close()

	buf := make([]byte, PrefixSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, deviceReadError(err, device)
	}
	return buf[:n], nil
}

func deviceReadError(err error, device string) error {
	return errors.Wrap(err, errors.ErrCodeDeviceRead, "failed to read device").
		WithComponent("filesystem").
		WithContext(errors.ContextDevice, device)
}
