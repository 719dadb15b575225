package file

import "os"

// OSDevice is a Device backed by a real file on disk, the production
// counterpart of MemDevice.
type OSDevice struct {
	f *os.File
}

// OpenOSDevice opens path for reading and writing, creating it if it
// does not already exist.
func OpenOSDevice(path string) (*OSDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &OSDevice{f: f}, nil
}

// ReadAt implements Device.
func (d *OSDevice) ReadAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteAt implements Device.
func (d *OSDevice) WriteAt(off int64, data []byte) error {
	_, err := d.f.WriteAt(data, off)
	return err
}

// Close closes the underlying file.
func (d *OSDevice) Close() error { return d.f.Close() }
