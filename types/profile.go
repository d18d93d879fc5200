package types

// SourceLocation identifies where a task was spawned.
type SourceLocation struct {
	File     string `msgpack:"file" json:"file"`
	Line     uint32 `msgpack:"line" json:"line"`
	Function string `msgpack:"function" json:"function"`
}

// TaskResourceProfile is the per-task resource record produced by the
// async monitoring auxiliary and consumed by the export writer as an
// auxiliary chunk. The engine itself never produces these; it only
// carries them through the binary container.
type TaskResourceProfile struct {
	TaskID         uint64         `msgpack:"task_id" json:"task_id"`
	TaskName       string         `msgpack:"task_name,omitempty" json:"task_name,omitempty"`
	Source         SourceLocation `msgpack:"source" json:"source"`
	CPUTimeNs      uint64         `msgpack:"cpu_time_ns" json:"cpu_time_ns"`
	MemoryPeak     uint64         `msgpack:"memory_peak_bytes" json:"memory_peak_bytes"`
	MemoryCurrent  uint64         `msgpack:"memory_current_bytes" json:"memory_current_bytes"`
	IoReadBytes    uint64         `msgpack:"io_read_bytes" json:"io_read_bytes"`
	IoWriteBytes   uint64         `msgpack:"io_write_bytes" json:"io_write_bytes"`
	NetRxBytes     uint64         `msgpack:"net_rx_bytes" json:"net_rx_bytes"`
	NetTxBytes     uint64         `msgpack:"net_tx_bytes" json:"net_tx_bytes"`
	PollCount     uint64         `msgpack:"poll_count" json:"poll_count"`
	StartedNs     uint64         `msgpack:"started_ns" json:"started_ns"`
	CompletedNs   *uint64        `msgpack:"completed_ns,omitempty" json:"completed_ns,omitempty"`
	CPUEfficiency float64        `msgpack:"cpu_efficiency" json:"cpu_efficiency"`
	MemEfficiency float64        `msgpack:"mem_efficiency" json:"mem_efficiency"`
}
