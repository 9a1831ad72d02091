package ingest

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// MemoryProbe reports resident memory utilization as a percentage. Tests
// substitute a fake to drive the pressure thresholds deterministically.
type MemoryProbe interface {
	UsedPercent() (float64, error)
}

// SystemProbe reads host memory utilization through gopsutil.
type SystemProbe struct{}

func (SystemProbe) UsedPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read memory stats: %w", err)
	}
	return vm.UsedPercent, nil
}
