package logging

import (
	"fmt"
	"io"
	"sync"

	"pipemesh/internal/common"
	"pipemesh/internal/ipc"
	"pipemesh/internal/lamport"
)

const (
	startedFmt            = "%d: process %1d (pid %5d, parent %5d) has STARTED\n"
	receivedAllStartedFmt = "%d: process %1d received all STARTED messages\n"
	doneFmt               = "%d: process %1d has DONE\n"
	receivedAllDoneFmt    = "%d: process %1d received all DONE messages\n"
	loopOperationFmt      = "process %1d is doing %d iteration out of %d\n"

	pipeSentFmt     = "%d: process %1d sent %v to process %1d\n"
	pipeReceivedFmt = "%d: process %1d received %v from process %1d\n"
)

// EventLog is the append-only record of lifecycle events. Lines go to the
// events file and are echoed on out. Nothing reads it back during a run.
type EventLog struct {
	out  io.Writer
	mu   sync.Mutex
	file *LogFile
}

// NewEventLog returns an event log writing to file and echoing on out; either may be nil.
func NewEventLog(out io.Writer, file *LogFile) *EventLog {
	return &EventLog{out: out, file: file}
}

func (e *EventLog) emit(s string) string {
	if e == nil {
		return s
	}
	if e.file != nil {
		e.file.Print(s)
	}
	if e.out != nil {
		e.mu.Lock()
		io.WriteString(e.out, s)
		e.mu.Unlock()
	}
	return s
}

// Started records that pid has started and returns the line, which doubles as the STARTED payload.
func (e *EventLog) Started(t lamport.Time, pid common.Pid, osPid, osParent int) string {
	return e.emit(fmt.Sprintf(startedFmt, t, int(pid), osPid, osParent))
}

// ReceivedAllStarted records that pid has heard from every other worker.
func (e *EventLog) ReceivedAllStarted(t lamport.Time, pid common.Pid) string {
	return e.emit(fmt.Sprintf(receivedAllStartedFmt, t, int(pid)))
}

// Done records that pid has finished its work and returns the line, which doubles as the DONE payload.
func (e *EventLog) Done(t lamport.Time, pid common.Pid) string {
	return e.emit(fmt.Sprintf(doneFmt, t, int(pid)))
}

// ReceivedAllDone records that pid has heard DONE from every other worker.
func (e *EventLog) ReceivedAllDone(t lamport.Time, pid common.Pid) string {
	return e.emit(fmt.Sprintf(receivedAllDoneFmt, t, int(pid)))
}

// LoopOperation is the unit of work a worker performs inside the critical section.
func (e *EventLog) LoopOperation(pid common.Pid, iteration, total int) string {
	return e.emit(fmt.Sprintf(loopOperationFmt, int(pid), iteration, total))
}

// PipeLog records every frame crossing the fabric.
type PipeLog struct {
	file *LogFile
}

// NewPipeLog returns a pipe log writing to file. A nil file disables it.
func NewPipeLog(file *LogFile) *PipeLog {
	return &PipeLog{file: file}
}

// Sent records a frame written by self to dst.
func (p *PipeLog) Sent(self, dst common.Pid, msg ipc.Message) {
	if p == nil || p.file == nil {
		return
	}
	p.file.Print(fmt.Sprintf(pipeSentFmt, msg.Time, int(self), msg.Type, int(dst)))
}

// Received records a frame read by self from src.
func (p *PipeLog) Received(self, src common.Pid, msg ipc.Message) {
	if p == nil || p.file == nil {
		return
	}
	p.file.Print(fmt.Sprintf(pipeReceivedFmt, msg.Time, int(self), msg.Type, int(src)))
}
