package diskproto

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Disk simulates a rotating disk: a fixed cylinders×sectors grid of
// fixed-size sectors backed by a single file, with a seek-time model
// that charges sector_move_time per cylinder the head crosses,
// grounded in original_source/step1/disksim.c's move_head.
type Disk struct {
	mu sync.Mutex

	file           *os.File
	cylinders      int
	sectors        int
	sectorSize     int
	sectorMoveTime time.Duration

	currentCylinder int
	totalElapsed    time.Duration
}

// OpenDisk opens (creating if necessary) the backing file for a
// cylinders×sectors grid of sectorSize-byte sectors, truncating it to
// the exact required size the way disk_init does with ftruncate.
func OpenDisk(path string, cylinders, sectors, sectorSize int, sectorMoveTime time.Duration) (*Disk, error) {
	if cylinders <= 0 || sectors <= 0 || sectorSize <= 0 {
		return nil, errors.New("diskproto: geometry must be positive")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "diskproto: opening disk file")
	}

	size := int64(cylinders) * int64(sectors) * int64(sectorSize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "diskproto: sizing disk file")
	}

	return &Disk{
		file:           f,
		cylinders:      cylinders,
		sectors:        sectors,
		sectorSize:     sectorSize,
		sectorMoveTime: sectorMoveTime,
	}, nil
}

// Close releases the backing file.
func (d *Disk) Close() error {
	return d.file.Close()
}

// Info reports the disk geometry.
func (d *Disk) Info() (cylinders, sectors int) {
	return d.cylinders, d.sectors
}

// Elapsed reports the cumulative simulated seek time served so far.
func (d *Disk) Elapsed() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalElapsed
}

func (d *Disk) inRange(cylinder, sector int) bool {
	return cylinder >= 0 && cylinder < d.cylinders && sector >= 0 && sector < d.sectors
}

// moveHead charges simulated seek latency proportional to the
// distance between the current cylinder and the target, then parks
// the head there — the direct analogue of disksim.c's move_head.
func (d *Disk) moveHead(cylinder int) {
	distance := cylinder - d.currentCylinder
	if distance < 0 {
		distance = -distance
	}
	wait := time.Duration(distance) * d.sectorMoveTime
	d.totalElapsed += wait
	d.currentCylinder = cylinder
	if wait > 0 {
		time.Sleep(wait)
	}
}

func (d *Disk) offset(cylinder, sector int) int64 {
	return (int64(cylinder)*int64(d.sectors) + int64(sector)) * int64(d.sectorSize)
}

// Read returns the full contents of one sector.
func (d *Disk) Read(cylinder, sector int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.inRange(cylinder, sector) {
		return nil, errors.Errorf("diskproto: cylinder/sector out of range: %d/%d", cylinder, sector)
	}
	d.moveHead(cylinder)

	buf := make([]byte, d.sectorSize)
	if _, err := d.file.ReadAt(buf, d.offset(cylinder, sector)); err != nil {
		return nil, errors.Wrap(err, "diskproto: reading sector")
	}
	return buf, nil
}

// Write stores data into one sector, zero-padding any tail the way
// disk_write does when data_size < SECTOR_SIZE. data must be no
// longer than the sector size.
func (d *Disk) Write(cylinder, sector int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(cylinder, sector, data)
}

func (d *Disk) writeLocked(cylinder, sector int, data []byte) error {
	if !d.inRange(cylinder, sector) {
		return errors.Errorf("diskproto: cylinder/sector out of range: %d/%d", cylinder, sector)
	}
	if len(data) > d.sectorSize {
		return errors.Errorf("diskproto: data size %d exceeds sector size %d", len(data), d.sectorSize)
	}
	d.moveHead(cylinder)

	padded := make([]byte, d.sectorSize)
	copy(padded, data)
	if _, err := d.file.WriteAt(padded, d.offset(cylinder, sector)); err != nil {
		return errors.Wrap(err, "diskproto: writing sector")
	}
	return nil
}

// Clear zeroes a sector in place.
func (d *Disk) Clear(cylinder, sector int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(cylinder, sector, nil)
}


// SectorSize reports the configured sector size.
func (d *Disk) SectorSize() int {
	return d.sectorSize
}
