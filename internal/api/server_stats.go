package api

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/annel0/terrain/internal/terrain"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const mib = 1 << 20

// ServerStats сводка для /api/server.
// GridHeadroom показывает, сколько сеток максимального размера ещё
// поместится в свободную память хоста.
type ServerStats struct {
	Uptime       string  `json:"uptime"`
	Heightmaps   int     `json:"heightmaps"`
	StoredCells  int64   `json:"stored_cells"`
	StoredGridMB float64 `json:"stored_grid_mb"`
	LargestSize  int     `json:"largest_size"`
	MaxGridMB    float64 `json:"max_grid_mb"`
	GridHeadroom int     `json:"max_grid_headroom"`

	HeapMB      float64 `json:"heap_mb"`
	NumGC       uint32  `json:"num_gc"`
	Goroutines  int     `json:"goroutines"`
	RSSMB       float64 `json:"rss_mb"`
	CPUPercent  float64 `json:"cpu_percent"`
	HostUsedMB  float64 `json:"host_used_mb"`
	HostTotalMB float64 `json:"host_total_mb"`
}

// statsCollector собирает ServerStats по запросу
type statsCollector struct {
	start time.Time
	proc  *process.Process // nil, если gopsutil не видит процесс
}

func newStatsCollector() *statsCollector {
	sc := &statsCollector{start: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sc.proc = p
	}
	return sc
}

// gridMB объём сетки size x size из float64 в MiB
func gridMB(size int) float64 {
	return float64(size) * float64(size) * 8 / mib
}

// Collect считает хранимые карты через svc.List и добавляет к ним
// состояние процесса и хоста. Ошибки gopsutil оставляют поля нулевыми.
func (sc *statsCollector) Collect(ctx context.Context, svc *terrain.Service) (ServerStats, error) {
	metas, err := svc.List(ctx)
	if err != nil {
		return ServerStats{}, err
	}

	st := ServerStats{
		Uptime:     time.Since(sc.start).Truncate(time.Second).String(),
		Heightmaps: len(metas),
		MaxGridMB:  gridMB(svc.Limits().MaxSize),
		Goroutines: runtime.NumGoroutine(),
	}
	for _, m := range metas {
		st.StoredCells += int64(m.Size) * int64(m.Size)
		st.StoredGridMB += gridMB(m.Size)
		if m.Size > st.LargestSize {
			st.LargestSize = m.Size
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.HeapMB = float64(ms.HeapAlloc) / mib
	st.NumGC = ms.NumGC

	if sc.proc != nil {
		if info, err := sc.proc.MemoryInfo(); err == nil {
			st.RSSMB = float64(info.RSS) / mib
		}
		if cpu, err := sc.proc.CPUPercent(); err == nil {
			st.CPUPercent = cpu
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		st.HostUsedMB = float64(vm.Used) / mib
		st.HostTotalMB = float64(vm.Total) / mib
		if st.MaxGridMB > 0 {
			st.GridHeadroom = int(float64(vm.Available) / mib / st.MaxGridMB)
		}
	}
	return st, nil
}
