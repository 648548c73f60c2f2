//go:build !tinygo

package nvs

import (
	"fmt"
	"os"
)

// FileFlash is a flash image stored in a host file, byte for byte as the
// array would read on hardware. It keeps NOR programming physics so host
// runs of demo programs and tools behave like the device: programming ANDs
// bits, erasing fills the sector with 0xff. New file space reads erased.
type FileFlash struct {
	f      *os.File
	size   uint32
	sector uint32
}

// OpenFileFlash opens or creates a flash image at path with the given
// geometry. An existing larger image is used as-is up to size; a shorter one
// is extended with erased bytes.
func OpenFileFlash(path string, size, sector uint32) (*FileFlash, error) {
	if sector == 0 || sector&(sector-1) != 0 || size == 0 || size%sector != 0 {
		return nil, fmt.Errorf("%w: image geometry size=%#x sector=%#x", ErrBadConfig, size, sector)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	ff := &FileFlash{f: f, size: size, sector: sector}
	if st.Size() < int64(size) {
		if err := preallocate(f, int64(size)); err != nil {
			f.Close()
			return nil, err
		}
		// Preallocated space reads zero; flash reads erased.
		if err := ff.fill(st.Size(), int64(size)-st.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return ff, nil
}

func (ff *FileFlash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(ff.size) {
		return 0, errFlashBounds
	}
	return ff.f.ReadAt(p, off)
}

func (ff *FileFlash) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(ff.size) {
		return 0, errFlashBounds
	}
	var stage [256]byte
	written := 0
	for len(p) > 0 {
		n := min(len(p), len(stage))
		if _, err := ff.f.ReadAt(stage[:n], off); err != nil {
			return written, err
		}
		for i := 0; i < n; i++ {
			stage[i] &= p[i]
		}
		if _, err := ff.f.WriteAt(stage[:n], off); err != nil {
			return written, err
		}
		p = p[n:]
		off += int64(n)
		written += n
	}
	return written, nil
}

func (ff *FileFlash) EraseSector(index uint32) error {
	start := int64(index) * int64(ff.sector)
	if start+int64(ff.sector) > int64(ff.size) {
		return errFlashBounds
	}
	return ff.fill(start, int64(ff.sector))
}

func (ff *FileFlash) SectorSize() uint32 { return ff.sector }

func (ff *FileFlash) Size() uint32 { return ff.size }

// Sync flushes image data to stable storage.
func (ff *FileFlash) Sync() error { return datasync(ff.f) }

// Close syncs and closes the underlying image file.
func (ff *FileFlash) Close() error {
	err := ff.Sync()
	cerr := ff.f.Close()
	if err != nil {
		return err
	}
	return cerr
}

// fill writes n erased bytes starting at off.
func (ff *FileFlash) fill(off, n int64) error {
	var stage [256]byte
	for i := range stage {
		stage[i] = erasedByte
	}
	for n > 0 {
		chunk := int64(len(stage))
		if chunk > n {
			chunk = n
		}
		if _, err := ff.f.WriteAt(stage[:chunk], off); err != nil {
			return err
		}
		off += chunk
		n -= chunk
	}
	return nil
}
